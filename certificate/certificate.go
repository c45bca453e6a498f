// Package certificate implements the Certificate resource: downloading the
// PEM chain an order's finalize produced, reading alternate chains via
// Link: rel="alternate", and revocation, per RFC 8555 sections 7.4.2 and
// 7.6.
package certificate

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/resource"
)

// Sender is the account-key signing capability certificate.Revoke needs:
// satisfied by *session.Login without this package importing session.
type Sender interface {
	resource.Login
	Send(ctx context.Context, url string, claims []byte) (*connection.Response, error)
}

// EmbeddedSender is the capability RevokeWithCertificateKey needs: a signed
// request using an embedded JWK rather than an account kid, satisfied by
// *session.Session.
type EmbeddedSender interface {
	SendEmbedded(ctx context.Context, url string, claims []byte, signer crypto.Signer) (*connection.Response, error)
}

// Certificate is a lazily-fetched certificate resource: the PEM chain an
// order's finalize URL produced, per RFC 8555 section 7.4.2. Its body is
// application/pem-certificate-chain rather than JSON, so unlike Account,
// Order, Authorization and Challenge it doesn't embed resource.Base; it
// keeps its own small PEM/Link cache instead.
type Certificate struct {
	url   string
	login resource.Login

	fetched   bool
	pem       []byte
	alternate []string
}

// New wraps url (an order's "certificate" field) as a Certificate, fetched
// lazily on first access.
func New(url string, login resource.Login) *Certificate {
	return &Certificate{url: url, login: login}
}

func (c *Certificate) URL() string { return c.url }

func (c *Certificate) ensure(ctx context.Context) error {
	if c.fetched {
		return nil
	}
	if err := c.load(ctx, c.url); err != nil {
		return &resource.LazyLoadError{URL: c.url, Err: err}
	}
	return nil
}

// Load unconditionally re-fetches the certificate chain.
func (c *Certificate) Load(ctx context.Context) error {
	return c.load(ctx, c.url)
}

func (c *Certificate) load(ctx context.Context, url string) error {
	resp, err := c.login.FetchURL(ctx, url)
	if err != nil {
		return err
	}
	if resp.ContentType != "application/pem-certificate-chain" {
		return &connection.ProtocolError{
			Msg: fmt.Sprintf("unexpected Content-Type %q for certificate response", resp.ContentType),
		}
	}
	c.pem = resp.Body
	c.alternate = resp.LinksWithRel("alternate")
	c.fetched = true
	return nil
}

// Chain returns the full ordered certificate chain (end-entity first).
func (c *Certificate) Chain(ctx context.Context) ([]*x509.Certificate, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	return parsePEMChain(c.pem)
}

// Leaf returns the end-entity certificate: the first entry of Chain.
func (c *Certificate) Leaf(ctx context.Context) (*x509.Certificate, error) {
	chain, err := c.Chain(ctx)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("certificate: chain contained no certificates")
	}
	return chain[0], nil
}

// PEM returns the raw PEM-encoded chain as delivered by the server.
func (c *Certificate) PEM(ctx context.Context) ([]byte, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	out := make([]byte, len(c.pem))
	copy(out, c.pem)
	return out, nil
}

// AlternateURLs returns the rel="alternate" Link targets offered alongside
// the default chain, per RFC 8555 section 7.4.2.
func (c *Certificate) AlternateURLs(ctx context.Context) ([]string, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	return c.alternate, nil
}

// AlternateChain fetches and parses one of the URLs AlternateURLs returns.
func (c *Certificate) AlternateChain(ctx context.Context, index int) ([]*x509.Certificate, error) {
	urls, err := c.AlternateURLs(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(urls) {
		return nil, fmt.Errorf("certificate: alternate chain index %d out of range (have %d)", index, len(urls))
	}
	alt := New(urls[index], c.login)
	return alt.Chain(ctx)
}

func parsePEMChain(pemBytes []byte) ([]*x509.Certificate, error) {
	resp := &connection.Response{Body: pemBytes, ContentType: "application/pem-certificate-chain"}
	return resp.Certificates()
}

// Reason is an RFC 5280 CRL revocation reason code, per RFC 8555 section 7.6.
type Reason int

const (
	ReasonUnspecified          Reason = 0
	ReasonKeyCompromise        Reason = 1
	ReasonAffiliationChanged   Reason = 3
	ReasonSuperseded           Reason = 4
	ReasonCessationOfOperation Reason = 5
)

type revokeRequest struct {
	Certificate string `json:"certificate"`
	Reason      *int   `json:"reason,omitempty"`
}

func revokeClaims(cert *x509.Certificate, reason *Reason) ([]byte, error) {
	req := revokeRequest{Certificate: base64.RawURLEncoding.EncodeToString(cert.Raw)}
	if reason != nil {
		r := int(*reason)
		req.Reason = &r
	}
	return json.Marshal(req)
}

// Revoke revokes cert using the account key (kid-authenticated), per RFC
// 8555 section 7.6.
func Revoke(ctx context.Context, revokeURL string, sender Sender, cert *x509.Certificate, reason *Reason) error {
	claims, err := revokeClaims(cert, reason)
	if err != nil {
		return err
	}
	_, err = sender.Send(ctx, revokeURL, claims)
	return err
}

// RevokeWithCertificateKey revokes cert using the certificate's own keypair
// (embedded-JWK-authenticated), the alternative RFC 8555 section 7.6 allows
// when the requester no longer controls the issuing account.
func RevokeWithCertificateKey(ctx context.Context, revokeURL string, sender EmbeddedSender, cert *x509.Certificate, certKey crypto.Signer, reason *Reason) error {
	claims, err := revokeClaims(cert, reason)
	if err != nil {
		return err
	}
	_, err = sender.SendEmbedded(ctx, revokeURL, claims, certKey)
	return err
}
