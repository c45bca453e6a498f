package account

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/jose"
	"github.com/acme-go/core/session"
)

// ErrNotExisting is returned by Builder.Create when OnlyExisting was set and
// the server would have had to create a new account (i.e. it did not reply
// 200 OK for a pre-existing registration).
type ErrNotExisting struct{}

func (ErrNotExisting) Error() string {
	return "account: no existing account found for this key (onlyReturnExisting)"
}

// Builder accumulates a newAccount registration request, per RFC 8555
// section 7.3.
type Builder struct {
	contacts     []string
	tosAgreed    bool
	onlyExisting bool
	key          crypto.Signer

	eabKeyID  string
	eabMACKey []byte
	eabAlg    string
}

// NewBuilder starts a registration request for the given account keypair.
func NewBuilder(key crypto.Signer) *Builder {
	return &Builder{key: key}
}

// AddContact appends a contact URI (e.g. "mailto:admin@example.com").
func (b *Builder) AddContact(uri string) *Builder {
	b.contacts = append(b.contacts, uri)
	return b
}

// AgreeToTermsOfService sets termsOfServiceAgreed: true on the request.
func (b *Builder) AgreeToTermsOfService() *Builder {
	b.tosAgreed = true
	return b
}

// OnlyExisting sets onlyReturnExisting: true, asking the server to fail
// rather than create a new account if this key has no existing
// registration.
func (b *Builder) OnlyExisting() *Builder {
	b.onlyExisting = true
	return b
}

// UseKeypair replaces the account keypair the request will be signed with.
func (b *Builder) UseKeypair(key crypto.Signer) *Builder {
	b.key = key
	return b
}

// WithKeyIdentifier attaches external account binding: kid is the CA-issued
// EAB key identifier, macKey the corresponding shared secret, and
// macAlgorithm the MAC algorithm name (defaults to HS256 when empty).
func (b *Builder) WithKeyIdentifier(kid string, macKey []byte, macAlgorithm string) *Builder {
	b.eabKeyID = kid
	b.eabMACKey = macKey
	b.eabAlg = macAlgorithm
	return b
}

type newAccountRequest struct {
	Contact              []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed bool            `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting   bool            `json:"onlyReturnExisting,omitempty"`
	ExternalAccountBind  json.RawMessage `json:"externalAccountBinding,omitempty"`
}

func (b *Builder) claims(newAccountURL string) ([]byte, error) {
	req := newAccountRequest{
		Contact:              b.contacts,
		TermsOfServiceAgreed: b.tosAgreed,
		OnlyReturnExisting:   b.onlyExisting,
	}
	if b.eabKeyID != "" {
		eab, err := jose.ExternalAccountBinding(b.eabKeyID, b.eabMACKey, b.eabAlg, newAccountURL, b.key.Public())
		if err != nil {
			return nil, fmt.Errorf("account: building external account binding: %w", err)
		}
		req.ExternalAccountBind = eab
	}
	return json.Marshal(req)
}

func (b *Builder) send(ctx context.Context, sess *session.Session) (*connection.Response, string, error) {
	newAccountURL, err := sess.EndpointURL(ctx, "newAccount")
	if err != nil {
		return nil, "", err
	}
	claims, err := b.claims(newAccountURL)
	if err != nil {
		return nil, "", err
	}
	resp, err := sess.SendEmbedded(ctx, newAccountURL, claims, b.key)
	if err != nil {
		return nil, "", err
	}
	return resp, newAccountURL, nil
}

func (b *Builder) checkResponse(resp *connection.Response) error {
	if b.onlyExisting && resp.StatusCode != http.StatusOK {
		return ErrNotExisting{}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return &connection.ProtocolError{
			Msg: fmt.Sprintf("account creation returned HTTP %d", resp.StatusCode),
		}
	}
	if resp.Location == "" {
		return &connection.ProtocolError{Msg: "account creation response had no Location header"}
	}
	return nil
}

// Create registers the account with the ACME server, per RFC 8555 section
// 7.3: posts to newAccount with an embedded JWK; 201 Created means a new
// account was made, 200 OK means an existing registration for this key was
// returned. OnlyExisting demands the latter outcome. Create returns only the
// account URL and its status, not an Account; use CreateLogin to get an
// Account bound to a login that can re-fetch itself.
func (b *Builder) Create(ctx context.Context, sess *session.Session) (url string, status string, err error) {
	resp, _, err := b.send(ctx, sess)
	if err != nil {
		return "", "", err
	}
	if err := b.checkResponse(resp); err != nil {
		return "", "", err
	}
	obj, err := resp.JSON()
	if err != nil {
		return "", "", err
	}
	st, _ := obj.Get("status").AsStatus()
	return resp.Location, st, nil
}

// CreateLogin registers the account and returns both the Account resource
// and a Login bound to it with this builder's keypair: the (session,
// account URL, keypair) triple an authenticated request needs.
func (b *Builder) CreateLogin(ctx context.Context, sess *session.Session) (*Account, *session.Login, error) {
	resp, _, err := b.send(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	if err := b.checkResponse(resp); err != nil {
		return nil, nil, err
	}
	obj, err := resp.JSON()
	if err != nil {
		return nil, nil, err
	}

	login := &session.Login{Session: sess, AccountURL: resp.Location, Key: b.key}
	acct := New(resp.Location, login)
	acct.base.Set(obj, resp)
	return acct, login, nil
}
