// Package jose provides the cryptographic and JOSE (JSON Object Signing and
// Encryption) helpers shared by the rest of the acme-go/core packages: key
// algorithm selection, RFC 7638 JWK thumbprints, unpadded base64url, ACE/IDN
// domain normalization and RFC 3339 timestamp parsing.
package jose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
	"golang.org/x/net/idna"
)

// ErrUnsupportedKey is returned by KeyAlgorithm when the given public key's
// type or curve has no corresponding ACME/JOSE signature algorithm.
type ErrUnsupportedKey struct {
	Key crypto.PublicKey
}

func (e *ErrUnsupportedKey) Error() string {
	return fmt.Sprintf("jose: unsupported key type %T", e.Key)
}

// KeyAlgorithm maps a public key to the JWS signature algorithm an ACME
// client must use to sign with the corresponding private key, per RFC 8555
// section 6.2. Only the algorithms ACME servers are required to support are
// recognized: RS256 for RSA, ES256/ES384/ES512 for the three NIST curves,
// and EdDSA for Ed25519.
func KeyAlgorithm(pub crypto.PublicKey) (josejwk.SignatureAlgorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return josejwk.RS256, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return josejwk.ES256, nil
		case elliptic.P384():
			return josejwk.ES384, nil
		case elliptic.P521():
			return josejwk.ES512, nil
		}
		return "", &ErrUnsupportedKey{Key: pub}
	case ed25519.PublicKey:
		return josejwk.EdDSA, nil
	default:
		return "", &ErrUnsupportedKey{Key: pub}
	}
}

// SigningKey builds a go-jose SigningKey for the given signer, suitable for
// passing to jose.NewSigner. If keyID is non-empty it is attached as the JWK
// key ID, which go-jose emits as the protected header's "kid" when the JWK
// is not embedded; the connection package passes the account URL here for
// every kid-authenticated request and an empty keyID for embedded-JWK ones.
func SigningKey(signer crypto.Signer, keyID string) (josejwk.SigningKey, error) {
	alg, err := KeyAlgorithm(signer.Public())
	if err != nil {
		return josejwk.SigningKey{}, err
	}
	jwk := josejwk.JSONWebKey{
		Key:   signer,
		KeyID: keyID,
	}
	return josejwk.SigningKey{Key: jwk, Algorithm: alg}, nil
}

// JWK returns the public JWK for a signer, with no key ID set. Used when
// embedding a JWK in a JWS protected header (account creation, key
// rollover's inner JWS).
func JWK(signer crypto.Signer) josejwk.JSONWebKey {
	return josejwk.JSONWebKey{Key: signer.Public()}
}

// JWKForPublicKey returns the public JWK for a bare public key, with no key
// ID set. Used by key rollover's "oldKey" claim, which names a key the
// caller may only have the public half of.
func JWKForPublicKey(pub crypto.PublicKey) josejwk.JSONWebKey {
	return josejwk.JSONWebKey{Key: pub}
}

// Thumbprint computes the RFC 7638 SHA-256 JWK thumbprint of a public key,
// base64url-unpadded-encoded. It defers the canonical-JSON construction to
// go-jose's own JSONWebKey.Thumbprint, which already restricts itself to the
// required members in lexicographic order.
func Thumbprint(pub crypto.PublicKey) (string, error) {
	jwk := josejwk.JSONWebKey{Key: pub}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("jose: computing thumbprint: %w", err)
	}
	return Base64URL(sum), nil
}

// KeyAuthorization builds an ACME key authorization string: the challenge
// token followed by a "." and the base64url JWK thumbprint of the account
// key, per RFC 8555 section 8.1.
func KeyAuthorization(pub crypto.PublicKey, token string) (string, error) {
	thumb, err := Thumbprint(pub)
	if err != nil {
		return "", err
	}
	return token + "." + thumb, nil
}

// Base64URL encodes bytes using unpadded URL-safe base64, the encoding ACME
// and JOSE use everywhere (JWS segments, key authorizations, thumbprints).
func Base64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes unpadded URL-safe base64 text.
func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// aceProfile is the IDNA2008 profile used for domain ToASCII conversion.
// MapForLookup applies the lookup mapping (case folding, width and
// compatibility mapping) together with strict STD3 ASCII rules and label
// validation, so names with underscores are rejected; no bidi rule check is
// added.
var aceProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
)

// dotSeparators are the alternate "full stop" characters IDNA clients must
// normalize to U+002E before ToASCII conversion, per RFC 8555 section
// 7.1.4's identifier value rules and the Unicode IDNA mapping table.
var dotSeparators = []string{
	"。", // IDEOGRAPHIC FULL STOP
	"．", // FULLWIDTH FULL STOP
	"｡", // HALFWIDTH IDEOGRAPHIC FULL STOP
}

// ToACE normalizes a domain name to its canonical ASCII-Compatible Encoding
// (Punycode) lowercase form: trimming whitespace, mapping alternate dot
// separators to ".", applying IDNA ToASCII, and preserving a leading "*."
// wildcard label unchanged (idna.ToASCII rejects "*" outright). ToACE is
// idempotent: calling it again on its own output returns the same string.
func ToACE(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	for _, sep := range dotSeparators {
		domain = strings.ReplaceAll(domain, sep, ".")
	}

	wildcard := false
	if strings.HasPrefix(domain, "*.") {
		wildcard = true
		domain = domain[2:]
	}

	ace, err := aceProfile.ToASCII(strings.ToLower(domain))
	if err != nil {
		return "", fmt.Errorf("jose: ToACE %q: %w", domain, err)
	}

	if wildcard {
		return "*." + ace, nil
	}
	return ace, nil
}

// ParseTimestamp parses an ACME protocol timestamp: RFC 3339 with a
// fractional-seconds component of any length (including none), using "Z" or
// a numeric UTC offset. time.RFC3339Nano already accepts any number of
// fractional digits up to nanosecond precision and is lenient about trailing
// zeros, which is all RFC 8555's timestamp fields require.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("jose: parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp renders t in the canonical form used for re-serializing
// ACME timestamps (e.g. persisting resource snapshots to JSON).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ExternalAccountBinding builds the RFC 8555 section 7.3.4 inner JWS an EAB
// registration attaches as the newAccount request's "externalAccountBinding"
// member: a MAC-signed envelope (protected header alg/kid/url, no nonce)
// whose payload is the account's public JWK, proving possession of a
// CA-issued pre-shared key. macAlgorithm defaults to HS256, the only
// algorithm RFC 8555 requires CAs to support.
func ExternalAccountBinding(kid string, macKey []byte, macAlgorithm string, url string, accountPub crypto.PublicKey) ([]byte, error) {
	alg := josejwk.HS256
	if macAlgorithm != "" {
		alg = josejwk.SignatureAlgorithm(macAlgorithm)
	}

	signingKey := josejwk.SigningKey{
		Algorithm: alg,
		Key: josejwk.JSONWebKey{
			Key:   macKey,
			KeyID: kid,
		},
	}
	signerOpts := &josejwk.SignerOptions{
		ExtraHeaders: map[josejwk.HeaderKey]interface{}{
			"url": url,
		},
	}
	signer, err := josejwk.NewSigner(signingKey, signerOpts)
	if err != nil {
		return nil, fmt.Errorf("jose: building EAB signer: %w", err)
	}

	payload, err := josejwk.JSONWebKey{Key: accountPub}.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("jose: marshaling EAB payload JWK: %w", err)
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("jose: signing EAB JWS: %w", err)
	}
	return []byte(signed.FullSerialize()), nil
}

const (
	errorPrefixCurrent = "urn:ietf:params:acme:error:"
	errorPrefixLegacy  = "urn:acme:error:"
)

// StripErrorPrefix removes a recognized ACME problem-document "type" URN
// prefix and returns the bare error kind (e.g. "badNonce"). It returns ok =
// false if the type string uses neither the current nor the legacy ACME
// error URN scheme, signaling that the problem is CA-specific or foreign and
// should be treated as a generic/unknown server error.
func StripErrorPrefix(errType string) (kind string, ok bool) {
	if strings.HasPrefix(errType, errorPrefixCurrent) {
		return strings.TrimPrefix(errType, errorPrefixCurrent), true
	}
	if strings.HasPrefix(errType, errorPrefixLegacy) {
		return strings.TrimPrefix(errType, errorPrefixLegacy), true
	}
	return "", false
}
