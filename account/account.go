// Package account implements the Account resource and its registration
// Builder, per RFC 8555 section 7.3: a resource.Base-backed lazy resource
// plus a dedicated Builder for the registration request's many optional
// knobs (contacts, external account binding, onlyReturnExisting).
package account

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/jose"
	"github.com/acme-go/core/resource"
	"github.com/acme-go/core/session"
)

// Account is a lazily-fetched account resource.
type Account struct {
	base *resource.Base
}

// New wraps url (typically the Location header from a newAccount response)
// as an Account, fetched lazily through login.
func New(url string, login *session.Login) *Account {
	return &Account{base: resource.NewBase(url, login)}
}

func (a *Account) URL() string { return a.base.URL }

// Status returns the account's current status: valid, deactivated, or
// revoked.
func (a *Account) Status(ctx context.Context) (string, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return obj.Get("status").AsStatus()
}

// Contacts returns the account's contact URIs.
func (a *Account) Contacts(ctx context.Context) ([]string, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	if !obj.Has("contact") {
		return nil, nil
	}
	arr, err := obj.Get("contact").AsArray()
	if err != nil {
		return nil, err
	}
	return arr.Strings()
}

// TermsOfServiceAgreed reports whether the account agreed to the CA's terms
// of service at registration.
func (a *Account) TermsOfServiceAgreed(ctx context.Context) (bool, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return false, err
	}
	if !obj.Has("termsOfServiceAgreed") {
		return false, nil
	}
	return obj.Get("termsOfServiceAgreed").AsBool()
}

// OrdersURL returns the account's orders collection URL, if advertised.
func (a *Account) OrdersURL(ctx context.Context) (string, bool, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return "", false, err
	}
	if !obj.Has("orders") {
		return "", false, nil
	}
	url, err := obj.Get("orders").AsString()
	if err != nil {
		return "", false, err
	}
	return url, url != "", nil
}

func (a *Account) post(ctx context.Context, login *session.Login, claims []byte) error {
	resp, err := login.Send(ctx, a.base.URL, claims)
	if err != nil {
		return err
	}
	obj, err := resp.JSON()
	if err != nil {
		return err
	}
	a.base.Set(obj, resp)
	return nil
}

// Modifier builds a contact-update mutation request: RFC 8555 only allows
// contacts to change post-registration.
type Modifier struct {
	account  *Account
	contacts []string
	set      bool
}

// Modify returns a mutation builder for this account.
func (a *Account) Modify() *Modifier {
	return &Modifier{account: a}
}

// SetContacts replaces the account's contact list.
func (m *Modifier) SetContacts(contacts []string) *Modifier {
	m.contacts = contacts
	m.set = true
	return m
}

// Apply posts the mutation to the account URL, updating its cached state on
// success.
func (m *Modifier) Apply(ctx context.Context, login *session.Login) error {
	req := map[string]interface{}{}
	if m.set {
		req["contact"] = m.contacts
	}
	claims, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return m.account.post(ctx, login, claims)
}

// Deactivate posts {"status":"deactivated"} to the account URL.
func (a *Account) Deactivate(ctx context.Context, login *session.Login) error {
	return a.post(ctx, login, []byte(`{"status":"deactivated"}`))
}

// ChangeKey performs key rollover, per RFC 8555 section 7.3.5: an inner JWS
// embedding newKey, with claims {account, oldKey} and no nonce, is sent as
// the payload of an ordinary kid-authenticated (old key) outer request to
// keyChange. The inner JWS construction lives in
// connection.BuildKeyChangeInnerJWS so this package never duplicates JOSE
// signing logic. On success the login's future requests must be signed with
// newKey; the caller is responsible for swapping login.Key, since Login is
// owned by the caller, not this package.
func ChangeKey(ctx context.Context, sess *session.Session, a *Account, login *session.Login, oldPub crypto.PublicKey, newKey crypto.Signer) error {
	keyChangeURL, err := sess.EndpointURL(ctx, "keyChange")
	if err != nil {
		return err
	}

	oldKeyJWK, err := json.Marshal(jose.JWKForPublicKey(oldPub))
	if err != nil {
		return fmt.Errorf("account: marshaling old key JWK: %w", err)
	}

	rollover := struct {
		Account string          `json:"account"`
		OldKey  json.RawMessage `json:"oldKey"`
	}{
		Account: a.base.URL,
		OldKey:  oldKeyJWK,
	}
	rolloverBytes, err := json.Marshal(rollover)
	if err != nil {
		return err
	}

	innerJWS, err := connection.BuildKeyChangeInnerJWS(keyChangeURL, rolloverBytes, newKey)
	if err != nil {
		return err
	}

	resp, err := login.Send(ctx, keyChangeURL, innerJWS)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return &connection.ProtocolError{Msg: fmt.Sprintf("key rollover returned HTTP %d", resp.StatusCode)}
	}
	return nil
}
