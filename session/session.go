// Package session implements the top-level Session/Login handles: server
// URI, locale, directory cache with conditional-GET semantics, the
// single-slot nonce, and the account-keyed login binding used to sign every
// authenticated request. Session owns the directory/nonce/provider; Login
// binds one account key to a Session, so a single CA connection can drive
// several account keys without each carrying its own directory cache and
// nonce.
package session

import (
	"context"
	"crypto"
	"fmt"
	"net/http"
	"time"

	"github.com/acme-go/core/challenge"
	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/jsonval"
	"github.com/acme-go/core/provider"
	"github.com/acme-go/core/transport"
)

// Session holds everything needed to talk to one ACME server: the resolved
// provider/connection, the cached directory, and the current nonce. A
// Session is not safe for concurrent use.
type Session struct {
	ServerURI string
	Locale    string
	Settings  transport.NetworkSettings

	provider     provider.Provider
	conn         *connection.Connection
	directoryURL string

	nonce    string
	hasNonce bool

	dirLoaded bool
	dir       jsonval.Object

	dirHasLastMod bool
	dirLastMod    time.Time

	dirHasExpires bool
	dirExpires    time.Time
}

// New resolves serverURI against the provider registry and opens a
// Connection for it.
func New(serverURI string, settings transport.NetworkSettings) (*Session, error) {
	p, err := provider.Resolve(serverURI)
	if err != nil {
		return nil, err
	}
	dirURL, err := p.Resolve(serverURI)
	if err != nil {
		return nil, err
	}
	conn, err := p.Connect(serverURI, settings)
	if err != nil {
		return nil, err
	}
	return &Session{
		ServerURI:    serverURI,
		Locale:       settings.Locale,
		Settings:     settings,
		provider:     p,
		conn:         conn,
		directoryURL: dirURL,
	}, nil
}

// TakeNonce implements connection.NoncePool.
func (s *Session) TakeNonce() (string, bool) {
	if !s.hasNonce {
		return "", false
	}
	n := s.nonce
	s.nonce, s.hasNonce = "", false
	return n, true
}

// StoreNonce implements connection.NoncePool.
func (s *Session) StoreNonce(nonce string) {
	s.nonce, s.hasNonce = nonce, true
}

// ResourceURL implements connection.Directory, reading from the last-cached
// directory. It performs no I/O; callers must have called Directory(ctx) at
// least once beforehand (every Session method that signs a request does
// this via ensureDirectory).
func (s *Session) ResourceURL(name string) (string, bool) {
	if !s.dirLoaded {
		return "", false
	}
	v := s.dir.Get(name)
	if !v.Present() {
		return "", false
	}
	str, err := v.AsString()
	if err != nil || str == "" {
		return "", false
	}
	return str, true
}

// Directory returns the cached directory resource, re-fetching with
// If-Modified-Since when the cache is empty or its Expires timestamp has
// passed, and keeping the cache on a 304.
func (s *Session) Directory(ctx context.Context) (jsonval.Object, error) {
	if s.dirLoaded && s.dirHasExpires && time.Now().Before(s.dirExpires) {
		return s.dir, nil
	}

	ims := ""
	if s.dirHasLastMod {
		ims = s.dirLastMod.UTC().Format(http.TimeFormat)
	}

	resp, err := s.conn.Get(ctx, s.directoryURL, ims)
	if err != nil {
		return jsonval.Object{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		obj, err := resp.JSON()
		if err != nil {
			return jsonval.Object{}, err
		}
		s.dir, s.dirLoaded = obj, true
	case http.StatusNotModified:
		if !s.dirLoaded {
			return jsonval.Object{}, &connection.ProtocolError{
				Msg: "directory endpoint returned 304 with no previously cached directory",
			}
		}
	default:
		return jsonval.Object{}, &connection.ProtocolError{
			Msg: fmt.Sprintf("directory fetch returned HTTP %d", resp.StatusCode),
		}
	}

	s.dirLastMod, s.dirHasLastMod = resp.LastModified, resp.HasLastMod
	s.dirExpires, s.dirHasExpires = resp.Expires, resp.HasExpires
	return s.dir, nil
}

func (s *Session) ensureDirectory(ctx context.Context) error {
	_, err := s.Directory(ctx)
	return err
}

// EndpointURL ensures the directory is loaded and returns the URL mapped to
// name, failing with connection.NotSupportedError if the CA does not
// advertise that endpoint.
func (s *Session) EndpointURL(ctx context.Context, name string) (string, error) {
	if err := s.ensureDirectory(ctx); err != nil {
		return "", err
	}
	url, ok := s.ResourceURL(name)
	if !ok {
		return "", &connection.NotSupportedError{Feature: name}
	}
	return url, nil
}

// Metadata returns the directory's "meta" sub-object with typed accessors.
// It makes no network call when the cached directory has not yet expired.
func (s *Session) Metadata(ctx context.Context) (Metadata, error) {
	dir, err := s.Directory(ctx)
	if err != nil {
		return Metadata{}, err
	}
	obj, err := dir.Get("meta").AsObject()
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{obj: obj}, nil
}

// SendEmbedded issues a signed request using an embedded JWK rather than a
// key ID: account creation, and revocation signed with the certificate's own
// key (certificate.RevokeWithCertificateKey). Key rollover's inner JWS is
// built by connection.BuildKeyChangeInnerJWS and never sent through here.
func (s *Session) SendEmbedded(ctx context.Context, url string, claims []byte, signer crypto.Signer) (*connection.Response, error) {
	if err := s.ensureDirectory(ctx); err != nil {
		return nil, err
	}
	return s.conn.SendSignedRequest(ctx, url, claims, s, connection.SigningOptions{
		Signer:   signer,
		EmbedKey: true,
	})
}

// Login binds an account key to a Session: the (session, account URL,
// keypair) triple an authenticated request needs. Resources obtained
// through a Login carry it so they can re-authenticate future requests.
type Login struct {
	Session    *Session
	AccountURL string
	Key        crypto.Signer
}

// Send issues a kid-authenticated signed request against url with the given
// claims (nil for POST-as-GET).
func (l *Login) Send(ctx context.Context, url string, claims []byte) (*connection.Response, error) {
	if err := l.Session.ensureDirectory(ctx); err != nil {
		return nil, err
	}
	return l.Session.conn.SendSignedRequest(ctx, url, claims, l.Session, connection.SigningOptions{
		Signer: l.Key,
		KeyID:  l.AccountURL,
	})
}

// FetchURL implements resource.Login: a POST-as-GET against url, signed
// with this login's account key.
func (l *Login) FetchURL(ctx context.Context, url string) (*connection.Response, error) {
	return l.Send(ctx, url, nil)
}

// NewChallenge implements challenge.Login, routing challenge construction
// through this session's bound provider.
func (l *Login) NewChallenge(obj jsonval.Object) (*challenge.Challenge, error) {
	return l.Session.provider.NewChallenge(l, obj)
}
