package jose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// KeyType names a supported private key algorithm family for NewSigner,
// MarshalSigner and UnmarshalSigner.
type KeyType string

const (
	KeyTypeECDSA KeyType = "ecdsa"
	KeyTypeRSA   KeyType = "rsa"
)

// NewSigner generates a fresh private key of the given type. ECDSA keys use
// the P-256 curve and RSA keys are 2048 bits, matching the defaults ACME
// CAs commonly require for account and certificate keys.
func NewSigner(kt KeyType) (crypto.Signer, error) {
	switch kt {
	case KeyTypeECDSA:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyTypeRSA:
		return rsa.GenerateKey(rand.Reader, 2048)
	default:
		return nil, fmt.Errorf("jose: unknown key type %q", kt)
	}
}

// MarshalSigner serializes a private key to DER bytes, returning the
// KeyType needed to later reconstruct it with UnmarshalSigner. It is used
// when an application persists an account keypair between sessions.
func MarshalSigner(signer crypto.Signer) ([]byte, KeyType, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, "", err
		}
		return der, KeyTypeECDSA, nil
	case *rsa.PrivateKey:
		return x509.MarshalPKCS1PrivateKey(k), KeyTypeRSA, nil
	default:
		return nil, "", fmt.Errorf("jose: unsupported signer type %T", signer)
	}
}

// UnmarshalSigner reconstructs a private key previously serialized with
// MarshalSigner.
func UnmarshalSigner(der []byte, kt KeyType) (crypto.Signer, error) {
	switch kt {
	case KeyTypeECDSA:
		return x509.ParseECPrivateKey(der)
	case KeyTypeRSA:
		return x509.ParsePKCS1PrivateKey(der)
	default:
		return nil, fmt.Errorf("jose: unknown key type %q", kt)
	}
}
