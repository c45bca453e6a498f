// Package provider implements the ACME provider SPI: mapping an opaque
// server URI to a directory URL and a Connection. A process-wide registry
// dispatches each server URI to the first provider that accepts it, so a
// well-known `acme://` host table can sit in front of a generic http(s)
// fallback.
package provider

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/acme-go/core/challenge"
	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/jsonval"
	"github.com/acme-go/core/resource"
	"github.com/acme-go/core/transport"
)

// Provider answers three questions about a server URI: whether it handles
// it, what directory URL it resolves to, and how to open a Connection for
// it. It also owns challenge construction: given a login and a challenge's
// JSON description, return the correctly typed Challenge. Built-in types are
// dispatched by the "type" field; an unrecognized type falls back to a
// generic token-based or generic challenge depending on whether a "token"
// field is present. A custom provider can override this to hand back its own
// challenge type for a type field none of the built-ins know about.
type Provider interface {
	// Accepts reports whether this provider recognizes uri.
	Accepts(uri string) bool
	// Resolve returns the directory URL for uri. Accepts(uri) must be true.
	Resolve(uri string) (string, error)
	// Connect opens a new Connection for talking to the CA behind uri.
	Connect(uri string, settings transport.NetworkSettings) (*connection.Connection, error)
	// NewChallenge builds a Challenge from its JSON description, bound to
	// login for its subsequent Trigger/fetch calls.
	NewChallenge(login resource.Login, obj jsonval.Object) (*challenge.Challenge, error)
}

// registry is the process-wide, write-once-at-startup provider list. It is
// not exported directly; callers use Register/Resolve.
var (
	registryMu sync.Mutex
	registry   []Provider
)

// Register adds a provider to the process-wide registry. Registration order
// matters: Resolve tries providers in registration order and uses the first
// match, so more specific providers must be registered before the generic
// catch-all. Register is intended to be called from package init()
// functions; it is safe to call at any time but is not meant to be called
// after startup.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, p)
}

// ErrNoProvider reports that no registered provider accepts a server URI.
type ErrNoProvider struct {
	URI string
}

func (e *ErrNoProvider) Error() string {
	return fmt.Sprintf("provider: no registered provider accepts %q", e.URI)
}

// Resolve finds the first registered provider that accepts uri. Multiple
// registered providers matching the same URI is a registration bug — accepts
// sets are expected to be disjoint in practice — and Resolve does not
// detect this; it simply returns the first match.
func Resolve(uri string) (Provider, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, p := range registry {
		if p.Accepts(uri) {
			return p, nil
		}
	}
	return nil, &ErrNoProvider{URI: uri}
}

func init() {
	Register(wellKnownProvider{})
	Register(GenericProvider{})
}

// GenericProvider accepts any http(s) URI and resolves it unchanged. It must
// be registered last so well-known providers get a chance to match acme://
// URIs first.
type GenericProvider struct{}

func (GenericProvider) Accepts(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

func (GenericProvider) Resolve(uri string) (string, error) {
	if _, err := url.Parse(uri); err != nil {
		return "", fmt.Errorf("provider: invalid server URI %q: %w", uri, err)
	}
	return uri, nil
}

func (GenericProvider) Connect(uri string, settings transport.NetworkSettings) (*connection.Connection, error) {
	return connection.New(settings), nil
}

func (GenericProvider) NewChallenge(login resource.Login, obj jsonval.Object) (*challenge.Challenge, error) {
	return challenge.New(obj, login)
}
