package challenge

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/acme-go/core/jose"
)

// HTTP01Path returns the well-known path a http-01 responder must serve the
// key authorization at, per RFC 8555 section 8.3.
func HTTP01Path(token string) string {
	return "/.well-known/acme-challenge/" + token
}

// DNS01Value computes the TXT record value a dns-01 responder must publish:
// base64url(SHA-256(keyAuthorization)).
func DNS01Value(keyAuthorization string) string {
	sum := sha256.Sum256([]byte(keyAuthorization))
	return jose.Base64URL(sum[:])
}

// DNS01Record builds the _acme-challenge.<domain> TXT record a dns-01
// responder must publish, using miekg/dns for RR construction. Publishing
// and resolving the record is the caller's responsibility; this only builds
// the record value.
func DNS01Record(domain, keyAuthorization string) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn("_acme-challenge." + domain),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    120,
		},
		Txt: []string{DNS01Value(keyAuthorization)},
	}
}

// accountLabelEncoding is unpadded base32 over the standard hex alphabet,
// chosen because DNS labels must be valid LDH labels: base64url's "-"/"_"
// and padding/case rules don't guarantee that, while base32 hex output does.
var accountLabelEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// DNSAccountLabel derives the per-account DNS label used by dns-account-01,
// per draft-ietf-acme-dns-account-label: base32(SHA-256(accountURL)),
// lower-cased for use as a DNS label.
func DNSAccountLabel(accountURL string) string {
	sum := sha256.Sum256([]byte(accountURL))
	return strings.ToLower(accountLabelEncoding.EncodeToString(sum[:]))
}

// DNSAccount01Record builds the dns-account-01 TXT record:
// _acme-challenge.<label>.<domain>.
func DNSAccount01Record(domain, accountURL, keyAuthorization string) *dns.TXT {
	label := DNSAccountLabel(accountURL)
	name := fmt.Sprintf("_acme-challenge.%s.%s", label, domain)
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(name),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    120,
		},
		Txt: []string{DNS01Value(keyAuthorization)},
	}
}

// acmeIdentifierOID is id-pe-acmeIdentifier from RFC 8737 section 6.1.
var acmeIdentifierOID = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

// TLSALPN01Extension builds the acmeIdentifier X.509 extension a tls-alpn-01
// self-signed certificate must embed: a critical extension whose value is
// the DER encoding of an OCTET STRING containing SHA-256(keyAuthorization).
func TLSALPN01Extension(keyAuthorization string) (pkix.Extension, error) {
	sum := sha256.Sum256([]byte(keyAuthorization))
	der, err := asn1.Marshal(sum[:])
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("challenge: marshaling acmeIdentifier extension: %w", err)
	}
	return pkix.Extension{
		Id:       acmeIdentifierOID,
		Critical: true,
		Value:    der,
	}, nil
}

// ALPNProtocol is the ALPN protocol ID a tls-alpn-01 responder must
// negotiate, per RFC 8737 section 3.
const ALPNProtocol = "acme-tls/1"

// SplitEmailToken splits an email-reply-00 challenge token into its two
// halves: the first half is delivered in the challenge object, the second
// arrives via the signed email reply.
func SplitEmailToken(token string) (part1, part2 string) {
	mid := len(token) / 2
	return token[:mid], token[mid:]
}

// EmailReplyAuthorization reconstructs the full token from its two halves
// and computes the resulting key authorization.
func EmailReplyAuthorization(part1, part2 string, accountPub crypto.PublicKey) (string, error) {
	return jose.KeyAuthorization(accountPub, part1+part2)
}
