// Package csr builds PKCS#10 certificate signing requests for two
// identifier families: DNS names (the common case) and email addresses
// (the S/MIME extension). Both builders share the same
// x509.CreateCertificateRequest core.
package csr

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
)

// DNSRequest builds a CSR for one or more DNS identifiers. CommonName
// defaults to the first name when empty.
type DNSRequest struct {
	CommonName string
	Names      []string
	Key        crypto.Signer
}

// Build encodes the request as a DER CSR signed by r.Key.
func (r DNSRequest) Build() ([]byte, error) {
	if len(r.Names) == 0 {
		return nil, fmt.Errorf("csr: no DNS names specified")
	}
	cn := r.CommonName
	if cn == "" {
		cn = r.Names[0]
	}
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: cn},
		DNSNames: r.Names,
	}
	return x509.CreateCertificateRequest(rand.Reader, template, r.Key)
}

// BuildPEM encodes the request as a PEM "CERTIFICATE REQUEST" block.
func (r DNSRequest) BuildPEM() ([]byte, error) {
	der, err := r.Build()
	if err != nil {
		return nil, err
	}
	return encodePEM(der), nil
}

// KeyUsage selects the S/MIME key usage profile an email CSR requests:
// signing only, or signing combined with the encryption usage a mail
// decryption certificate also needs.
type KeyUsage int

const (
	// SigningOnly requests digitalSignature alone.
	SigningOnly KeyUsage = iota
	// SigningAndEncryption requests digitalSignature|keyEncipherment, the
	// usual profile for an S/MIME certificate that must also decrypt mail.
	SigningAndEncryption
)

func (u KeyUsage) bits() x509.KeyUsage {
	switch u {
	case SigningAndEncryption:
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	default:
		return x509.KeyUsageDigitalSignature
	}
}

// keyUsageOID is id-ce-keyUsage (RFC 5280 section 4.2.1.3). CertificateRequest
// carries no native KeyUsage field (unlike x509.Certificate), so a CSR that
// wants to request a usage profile must encode it as a raw extension via
// ExtraExtensions, the same mechanism signer/ceremony code across the pack
// uses for x509.Certificate templates.
var keyUsageOID = asn1.ObjectIdentifier{2, 5, 29, 15}

// EmailRequest builds a CSR for one or more email (S/MIME) identifiers.
type EmailRequest struct {
	CommonName string
	Emails     []string
	Usage      KeyUsage
	Key        crypto.Signer
}

// Build encodes the request as a DER CSR signed by r.Key, with an explicit
// keyUsage extension reflecting r.Usage.
func (r EmailRequest) Build() ([]byte, error) {
	if len(r.Emails) == 0 {
		return nil, fmt.Errorf("csr: no email addresses specified")
	}
	cn := r.CommonName
	if cn == "" {
		cn = r.Emails[0]
	}

	ext, err := keyUsageExtension(r.Usage.bits())
	if err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		Subject:         pkix.Name{CommonName: cn},
		EmailAddresses:  r.Emails,
		ExtraExtensions: []pkix.Extension{ext},
	}
	return x509.CreateCertificateRequest(rand.Reader, template, r.Key)
}

// BuildPEM encodes the request as a PEM "CERTIFICATE REQUEST" block.
func (r EmailRequest) BuildPEM() ([]byte, error) {
	der, err := r.Build()
	if err != nil {
		return nil, err
	}
	return encodePEM(der), nil
}

// keyUsageExtension DER-encodes a KeyUsage bit string the way crypto/x509's
// own (unexported) marshalKeyUsage does for certificate templates: each
// KeyUsage bit is the reverse-numbered ASN.1 BIT STRING bit (bit 0 of the
// constant is the most significant bit of the first octet), trailing
// all-zero bytes dropped.
func keyUsageExtension(ku x509.KeyUsage) (pkix.Extension, error) {
	var a [2]byte
	a[0] = reverseBitsInByte(byte(ku))
	a[1] = reverseBitsInByte(byte(ku >> 8))

	n := 1
	if a[1] != 0 {
		n = 2
	}
	bytes := a[:n]

	bitString := asn1.BitString{Bytes: bytes, BitLength: asn1BitLength(bytes)}
	der, err := asn1.Marshal(bitString)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("csr: marshaling keyUsage extension: %w", err)
	}
	return pkix.Extension{Id: keyUsageOID, Critical: true, Value: der}, nil
}

func reverseBitsInByte(b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

func asn1BitLength(bytes []byte) int {
	bitLen := len(bytes) * 8
	for i := len(bytes) - 1; i >= 0; i-- {
		b := bytes[i]
		if b == 0 {
			bitLen -= 8
			continue
		}
		for b&1 == 0 {
			b >>= 1
			bitLen--
		}
		break
	}
	return bitLen
}

func encodePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
}
