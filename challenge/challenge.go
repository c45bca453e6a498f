// Package challenge implements Authorization and Challenge resources and
// the per-type key-authorization derivations RFC 8555 section 8 describes:
// http-01, dns-01, dns-account-01, tls-alpn-01, and email-reply-00. Each
// resource is a resource.Base-backed lazy type with typed, per-kind
// accessors.
package challenge

import (
	"context"
	"crypto"
	"time"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/identifier"
	"github.com/acme-go/core/jose"
	"github.com/acme-go/core/jsonval"
	"github.com/acme-go/core/problem"
	"github.com/acme-go/core/resource"
)

var authorizationTerminal = map[string]bool{
	"valid":       true,
	"invalid":     true,
	"deactivated": true,
	"expired":     true,
	"revoked":     true,
}

var challengeTerminal = map[string]bool{
	"valid":   true,
	"invalid": true,
}

// Sender is the subset of session.Login that Trigger/Deactivate need beyond
// the read-only resource.Login interface: a signed POST carrying claims. It
// is satisfied by *session.Login without this package importing session.
type Sender interface {
	resource.Login
	Send(ctx context.Context, url string, claims []byte) (*connection.Response, error)
}

// Login is everything an Authorization needs from its owning login beyond
// the read-only resource.Login fetch: the challenge-construction capability
// its bound provider supplies, so a custom provider can hand back its own
// challenge type instead of the built-in dispatch New implements. It is
// satisfied by *session.Login without this package importing session or
// provider.
type Login interface {
	resource.Login
	NewChallenge(obj jsonval.Object) (*Challenge, error)
}

// Authorization is a lazily-fetched authorization resource, per RFC 8555
// section 7.1.4.
type Authorization struct {
	base  *resource.Base
	login Login
}

// NewAuthorization wraps url as an Authorization, to be fetched lazily.
func NewAuthorization(url string, login Login) *Authorization {
	return &Authorization{base: resource.NewBase(url, login), login: login}
}

func (a *Authorization) URL() string { return a.base.URL }

// Identifier returns the authorization's subject identifier.
func (a *Authorization) Identifier(ctx context.Context) (identifier.Identifier, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return identifier.Identifier{}, err
	}
	idObj, err := obj.Get("identifier").AsObject()
	if err != nil {
		return identifier.Identifier{}, err
	}
	typ, err := idObj.Get("type").AsString()
	if err != nil {
		return identifier.Identifier{}, err
	}
	val, err := idObj.Get("value").AsString()
	if err != nil {
		return identifier.Identifier{}, err
	}
	return identifier.Identifier{Type: typ, Value: val}, nil
}

// Status returns the authorization's current status.
func (a *Authorization) Status(ctx context.Context) (string, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return obj.Get("status").AsStatus()
}

// Wildcard reports whether this authorization covers a wildcard identifier.
func (a *Authorization) Wildcard(ctx context.Context) (bool, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return false, err
	}
	return obj.Get("wildcard").AsBool()
}

// Expires returns the authorization's expiry instant.
func (a *Authorization) Expires(ctx context.Context) (time.Time, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return obj.Get("expires").AsInstant()
}

// Challenges returns the authorization's offered/attempted challenges.
func (a *Authorization) Challenges(ctx context.Context) ([]*Challenge, error) {
	obj, err := a.base.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	arr, err := obj.Get("challenges").AsArray()
	if err != nil {
		return nil, err
	}
	out := make([]*Challenge, 0, arr.Size())
	for _, v := range arr.Values() {
		chObj, err := v.AsObject()
		if err != nil {
			return nil, err
		}
		c, err := a.login.NewChallenge(chObj)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FindChallenge returns the first challenge of the requested type, or nil.
func FindChallenge(challenges []*Challenge, challengeType string) *Challenge {
	for _, c := range challenges {
		if c.Type == challengeType {
			return c
		}
	}
	return nil
}

// WaitForCompletion polls the authorization until it reaches a terminal
// status or deadline elapses.
func (a *Authorization) WaitForCompletion(ctx context.Context, deadline time.Time, opts resource.PollOptions) error {
	return resource.Poll(ctx, a.base, deadline, authorizationTerminal, a.base.Load, func() string {
		s, _ := a.base.Last().Get("status").AsString()
		return s
	}, opts)
}

// Deactivate posts {"status":"deactivated"} to the authorization URL,
// moving a valid authorization to the deactivated terminal state.
func (a *Authorization) Deactivate(ctx context.Context, sender Sender) error {
	resp, err := sender.Send(ctx, a.base.URL, []byte(`{"status":"deactivated"}`))
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

// Challenge is a lazily-fetched challenge resource.
type Challenge struct {
	base *resource.Base

	Type  string
	Token string
}

// New builds a Challenge from its JSON description. This is the built-in
// dispatch a Provider falls back to for a recognized type field, and the
// generic construction for an unrecognized one: token is read when present
// (a token-based generic challenge) and left empty otherwise (a bare generic
// challenge with no token-based response to derive).
func New(obj jsonval.Object, login resource.Login) (*Challenge, error) {
	url, err := obj.Get("url").AsString()
	if err != nil {
		return nil, err
	}
	typ, err := obj.Get("type").AsString()
	if err != nil {
		return nil, err
	}
	var token string
	if obj.Has("token") {
		token, err = obj.Get("token").AsString()
		if err != nil {
			return nil, err
		}
	}
	base := resource.NewBase(url, login)
	base.Set(obj, nil)
	return &Challenge{base: base, Type: typ, Token: token}, nil
}

func (c *Challenge) URL() string { return c.base.URL }

// Status returns the challenge's current status.
func (c *Challenge) Status(ctx context.Context) (string, error) {
	obj, err := c.base.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return obj.Get("status").AsStatus()
}

// Validated returns the instant the server validated this challenge.
func (c *Challenge) Validated(ctx context.Context) (time.Time, error) {
	obj, err := c.base.Ensure(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return obj.Get("validated").AsInstant()
}

// Error returns the problem document recorded for an invalid challenge.
func (c *Challenge) Error(ctx context.Context) (problem.Problem, error) {
	obj, err := c.base.Ensure(ctx)
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

// KeyAuthorization computes this challenge's key authorization: the token
// followed by "." and the base64url JWK thumbprint of the account public
// key, per RFC 8555 section 8.1.
func (c *Challenge) KeyAuthorization(accountPub crypto.PublicKey) (string, error) {
	return jose.KeyAuthorization(accountPub, c.Token)
}

// Trigger posts an empty JSON object to the challenge URL, asking the server
// to begin validation (pending → processing).
func (c *Challenge) Trigger(ctx context.Context, sender Sender) error {
	resp, err := sender.Send(ctx, c.base.URL, []byte(`{}`))
	if err != nil {
		return err
	}
	obj, err := resp.JSON()
	if err != nil {
		return err
	}
	c.base.Set(obj, resp)
	return nil
}

// WaitForCompletion polls the challenge until it reaches valid/invalid or
// deadline elapses.
func (c *Challenge) WaitForCompletion(ctx context.Context, deadline time.Time, opts resource.PollOptions) error {
	return resource.Poll(ctx, c.base, deadline, challengeTerminal, c.base.Load, func() string {
		s, _ := c.base.Last().Get("status").AsString()
		return s
	}, opts)
}
