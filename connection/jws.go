package connection

import (
	"crypto"
	"fmt"

	"github.com/acme-go/core/jose"
	gojose "github.com/go-jose/go-jose/v4"
)

// SigningOptions configures how SendSignedRequest signs and identifies the
// JWS: either EmbedKey is set (account creation, per-cert-key revocation) or
// KeyID is set (every other authenticated request), never both. Key
// rollover's inner JWS does not go through SigningOptions; see
// BuildKeyChangeInnerJWS.
type SigningOptions struct {
	EmbedKey bool
	KeyID    string
	Signer   crypto.Signer
}

func (opts SigningOptions) validate() error {
	if opts.Signer == nil {
		return fmt.Errorf("connection: SigningOptions: Signer must not be nil")
	}
	if opts.EmbedKey && opts.KeyID != "" {
		return fmt.Errorf("connection: SigningOptions: cannot specify both EmbedKey and KeyID")
	}
	if !opts.EmbedKey && opts.KeyID == "" {
		return fmt.Errorf("connection: SigningOptions: must specify EmbedKey or KeyID")
	}
	return nil
}

// nonceSource adapts a single pre-fetched nonce into go-jose's
// jose.NonceSource interface. The connection package consumes nonces itself
// (taking the stored value and fetching a fresh one only when the pool is
// empty); by the time signing begins the nonce to use is already known, so
// this adapter just hands it back once.
type nonceSource struct {
	nonce string
}

func (n nonceSource) Nonce() (string, error) {
	return n.nonce, nil
}

// sign produces a serialized JWS for url/data using the given nonce and
// SigningOptions. This is a pure function with no I/O: it does not consult
// or mutate any nonce pool itself (see Connection.SendSignedRequest for that).
func sign(url string, data []byte, nonce string, opts SigningOptions) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var signingKey gojose.SigningKey
	var err error
	if opts.EmbedKey {
		signingKey, err = jose.SigningKey(opts.Signer, "")
	} else {
		signingKey, err = jose.SigningKey(opts.Signer, opts.KeyID)
		// ACME's "kid" lives in the protected header directly, not as a JWK
		// member; go-jose adds it automatically when SigningKey.Key is a
		// JSONWebKey with a KeyID and EmbedJWK is false.
	}
	if err != nil {
		return nil, fmt.Errorf("connection: building signing key: %w", err)
	}

	signerOpts := &gojose.SignerOptions{
		NonceSource: nonceSource{nonce: nonce},
		EmbedJWK:    opts.EmbedKey,
		ExtraHeaders: map[gojose.HeaderKey]interface{}{
			"url": url,
		},
	}

	signer, err := gojose.NewSigner(signingKey, signerOpts)
	if err != nil {
		return nil, fmt.Errorf("connection: creating signer: %w", err)
	}

	signed, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("connection: signing request: %w", err)
	}

	return []byte(signed.FullSerialize()), nil
}

// BuildKeyChangeInnerJWS builds the unsent inner JWS RFC 8555 section 7.3.5
// key rollover requires: an embedded-JWK JWS over payload, signed with
// newKey, carrying no nonce (the inner JWS of a key-change request must
// omit it; only the outer JWS, built and sent the ordinary way via
// SendSignedRequest, carries one). The caller posts the returned bytes as
// the *payload* of a normal kid-authenticated request to keyChange, never
// as a request body on its own.
func BuildKeyChangeInnerJWS(url string, payload []byte, newKey crypto.Signer) ([]byte, error) {
	signingKey, err := jose.SigningKey(newKey, "")
	if err != nil {
		return nil, fmt.Errorf("connection: building key-change inner signing key: %w", err)
	}

	signerOpts := &gojose.SignerOptions{
		EmbedJWK: true,
		ExtraHeaders: map[gojose.HeaderKey]interface{}{
			"url": url,
		},
	}

	signer, err := gojose.NewSigner(signingKey, signerOpts)
	if err != nil {
		return nil, fmt.Errorf("connection: creating key-change inner signer: %w", err)
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("connection: signing key-change inner JWS: %w", err)
	}
	return []byte(signed.FullSerialize()), nil
}
