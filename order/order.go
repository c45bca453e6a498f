// Package order implements the Order resource, its creation Builder, and
// finalize, per RFC 8555 section 7.4: a resource.Base-backed lazy resource
// plus the finalize-with-CSR step that moves an order from ready to valid.
package order

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acme-go/core/challenge"
	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/csr"
	"github.com/acme-go/core/identifier"
	"github.com/acme-go/core/problem"
	"github.com/acme-go/core/resource"
	"github.com/acme-go/core/session"
)

var terminal = map[string]bool{
	"valid":   true,
	"invalid": true,
}

// Order is a lazily-fetched order resource.
type Order struct {
	base  *resource.Base
	login challenge.Login
}

// New wraps url (typically the Location header from a newOrder response) as
// an Order, fetched lazily through login.
func New(url string, login challenge.Login) *Order {
	return &Order{base: resource.NewBase(url, login), login: login}
}

func (o *Order) URL() string { return o.base.URL }

// Status returns the order's current status: pending, ready, processing,
// valid, or invalid.
func (o *Order) Status(ctx context.Context) (string, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return obj.Get("status").AsStatus()
}

// Identifiers returns the order's subject identifiers.
func (o *Order) Identifiers(ctx context.Context) ([]identifier.Identifier, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	arr, err := obj.Get("identifiers").AsArray()
	if err != nil {
		return nil, err
	}
	out := make([]identifier.Identifier, 0, arr.Size())
	for _, v := range arr.Values() {
		idObj, err := v.AsObject()
		if err != nil {
			return nil, err
		}
		typ, err := idObj.Get("type").AsString()
		if err != nil {
			return nil, err
		}
		val, err := idObj.Get("value").AsString()
		if err != nil {
			return nil, err
		}
		out = append(out, identifier.Identifier{Type: typ, Value: val})
	}
	return out, nil
}

// NotBefore returns the order's requested notBefore instant, if present.
func (o *Order) NotBefore(ctx context.Context) (time.Time, bool, error) {
	return o.optionalInstant(ctx, "notBefore")
}

// NotAfter returns the order's requested notAfter instant, if present.
func (o *Order) NotAfter(ctx context.Context) (time.Time, bool, error) {
	return o.optionalInstant(ctx, "notAfter")
}

// Expires returns the order's expiry instant, if present.
func (o *Order) Expires(ctx context.Context) (time.Time, bool, error) {
	return o.optionalInstant(ctx, "expires")
}

func (o *Order) optionalInstant(ctx context.Context, field string) (time.Time, bool, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if !obj.Has(field) {
		return time.Time{}, false, nil
	}
	t, err := obj.Get(field).AsInstant()
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Profile returns the order's selected profile name, if present.
func (o *Order) Profile(ctx context.Context) (string, bool, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return "", false, err
	}
	if !obj.Has("profile") {
		return "", false, nil
	}
	p, err := obj.Get("profile").AsString()
	if err != nil {
		return "", false, err
	}
	return p, p != "", nil
}

// Error returns the problem document recorded for an invalid order.
func (o *Order) Error(ctx context.Context) (problem.Problem, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return problem.Problem{}, err
	}
	if !obj.Has("error") {
		return problem.Problem{}, nil
	}
	probObj, err := obj.Get("error").AsObject()
	if err != nil {
		return problem.Problem{}, err
	}
	raw, err := probObj.MarshalJSON()
	if err != nil {
		return problem.Problem{}, err
	}
	return problem.Parse(raw)
}

// CertificateURL returns the order's certificate URL, present once status
// is valid.
func (o *Order) CertificateURL(ctx context.Context) (string, bool, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return "", false, err
	}
	if !obj.Has("certificate") {
		return "", false, nil
	}
	url, err := obj.Get("certificate").AsString()
	if err != nil {
		return "", false, err
	}
	return url, url != "", nil
}

// Authorizations resolves the order's authorization URLs to lazy
// Authorization resources.
func (o *Order) Authorizations(ctx context.Context) ([]*challenge.Authorization, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	arr, err := obj.Get("authorizations").AsArray()
	if err != nil {
		return nil, err
	}
	urls, err := arr.Strings()
	if err != nil {
		return nil, err
	}
	out := make([]*challenge.Authorization, 0, len(urls))
	for _, u := range urls {
		out = append(out, challenge.NewAuthorization(u, o.login))
	}
	return out, nil
}

// AuthorizationByIdentifier fetches each authorization in turn until one
// matches id. The order's authorizations array is treated as unordered;
// callers that need a specific identifier's authorization should use this
// rather than assuming array position lines up with Identifiers.
func (o *Order) AuthorizationByIdentifier(ctx context.Context, id identifier.Identifier) (*challenge.Authorization, error) {
	authzs, err := o.Authorizations(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range authzs {
		got, err := a.Identifier(ctx)
		if err != nil {
			return nil, err
		}
		if got.Equal(id) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("order: no authorization found for identifier %s", id.String())
}

// WaitForCompletion polls the order until it reaches valid/invalid or
// deadline elapses.
func (o *Order) WaitForCompletion(ctx context.Context, deadline time.Time, opts resource.PollOptions) error {
	return resource.Poll(ctx, o.base, deadline, terminal, o.base.Load, func() string {
		s, _ := o.base.Last().Get("status").AsString()
		return s
	}, opts)
}

// finalizeRequest is the finalize endpoint's sole claim, per RFC 8555
// section 7.4.
type finalizeRequest struct {
	CSR string `json:"csr"`
}

// Execute posts a DER-encoded CSR to the order's finalize URL, per RFC 8555
// section 7.4. The order must be in "ready" status; the caller is
// responsible for having reached it, since the server rejects a premature
// finalize on its own and this method adds no client-side state-machine
// guard on top of that.
func (o *Order) Execute(ctx context.Context, sender Sender, csrDER []byte) error {
	finalizeURL, err := o.finalizeURL(ctx)
	if err != nil {
		return err
	}
	claims, err := json.Marshal(finalizeRequest{CSR: base64.RawURLEncoding.EncodeToString(csrDER)})
	if err != nil {
		return err
	}
	resp, err := sender.Send(ctx, finalizeURL, claims)
	if err != nil {
		return err
	}
	obj, err := resp.JSON()
	if err != nil {
		return err
	}
	o.base.Set(obj, resp)
	return nil
}

// ExecuteWithKeypair builds a DNS CSR covering the order's own identifiers
// and submits it, using key as the CSR's keypair.
func (o *Order) ExecuteWithKeypair(ctx context.Context, sender Sender, key crypto.Signer) error {
	ids, err := o.Identifiers(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.Value)
	}
	der, err := (csr.DNSRequest{Names: names, Key: key}).Build()
	if err != nil {
		return err
	}
	return o.Execute(ctx, sender, der)
}

func (o *Order) finalizeURL(ctx context.Context) (string, error) {
	obj, err := o.base.Ensure(ctx)
	if err != nil {
		return "", err
	}
	url, err := obj.Get("finalize").AsString()
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", &connection.ProtocolError{Msg: "order has no finalize URL"}
	}
	return url, nil
}

// Sender is the account-key signing capability Execute needs, satisfied by
// *session.Login.
type Sender interface {
	resource.Login
	Send(ctx context.Context, url string, claims []byte) (*connection.Response, error)
}

var _ Sender = (*session.Login)(nil)
