// Package connection implements the signed-HTTP transport layer of the ACME
// protocol engine: JWS envelope construction, nonce lifecycle, bad-nonce
// replay recovery, and problem-document/header decoding.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/acme-go/core/problem"
	"github.com/acme-go/core/transport"
)

// MaxBadNonceAttempts bounds the transparent bad-nonce retry loop: at most
// this many signed attempts are made for one logical request.
const MaxBadNonceAttempts = 10

// Directory is the subset of a directory cache a Connection needs to
// resolve well-known endpoint names (currently just "newNonce").
// session.Session implements this.
type Directory interface {
	ResourceURL(name string) (string, bool)
}

// NoncePool is the single-slot nonce store a Connection consumes from and
// refills. session.Session implements this.
type NoncePool interface {
	TakeNonce() (string, bool)
	StoreNonce(nonce string)
}

// SigningContext is everything a signed exchange needs from its caller:
// directory lookups (to refresh a nonce) and the nonce pool itself.
type SigningContext interface {
	Directory
	NoncePool
}

// Connection performs one HTTP exchange at a time against an ACME server.
// It is not safe for concurrent use; a guard flag enforces the closed/open
// invariant instead of silently corrupting interleaved requests.
type Connection struct {
	http *transport.Client

	mu   sync.Mutex
	open bool
}

// New builds a Connection using the given network settings. Providers call
// this from their Connect method.
func New(settings transport.NetworkSettings) *Connection {
	return &Connection{http: transport.New(settings)}
}

func (c *Connection) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return &IllegalStateError{Msg: "send_* called while a previous exchange is still open"}
	}
	c.open = true
	return nil
}

func (c *Connection) release() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// fetchNonceValue performs the newNonce HEAD exchange and returns the fresh
// nonce without storing it anywhere; callers decide whether/where to store
// it (SendSignedRequest signs its next attempt with it; ResetNonce stores it
// into the pool).
func (c *Connection) fetchNonceValue(ctx context.Context, dir Directory) (string, error) {
	nonceURL, ok := dir.ResourceURL("newNonce")
	if !ok {
		return "", &NotSupportedError{Feature: "newNonce"}
	}

	resp, err := c.http.Head(ctx, nonceURL)
	if err != nil {
		return "", err
	}
	if resp.HTTP.StatusCode != http.StatusOK {
		return "", &ProtocolError{Msg: fmt.Sprintf("newNonce returned HTTP %d", resp.HTTP.StatusCode)}
	}
	nonce := resp.HTTP.Header.Get("Replay-Nonce")
	if err := validateNonce(nonce); err != nil {
		return "", err
	}
	return nonce, nil
}

// ResetNonce fetches a fresh nonce from the newNonce endpoint and stores it
// in the pool.
func (c *Connection) ResetNonce(ctx context.Context, ctxt SigningContext) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	nonce, err := c.fetchNonceValue(ctx, ctxt)
	if err != nil {
		return err
	}
	ctxt.StoreNonce(nonce)
	return nil
}

// Get issues an unauthenticated GET, used for directory discovery. It
// accepts both 200 and 304 without treating either as an error; other
// non-2xx statuses are left for the caller to inspect (directory fetches
// don't carry ACME problem bodies the way signed requests do).
func (c *Connection) Get(ctx context.Context, url string, ifModifiedSince string) (*Response, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	resp, err := c.http.Get(ctx, url, ifModifiedSince)
	if err != nil {
		return nil, err
	}
	return newResponse(resp.HTTP, resp.Body), nil
}

// takeOrFetchNonce consumes the pool's stored nonce, fetching one first if
// the pool is empty.
func (c *Connection) takeOrFetchNonce(ctx context.Context, ctxt SigningContext) (string, error) {
	if nonce, ok := ctxt.TakeNonce(); ok {
		return nonce, nil
	}
	return c.fetchNonceValue(ctx, ctxt)
}

// SendSignedRequest builds a JWS for claims (or an empty POST-as-GET
// payload when claims is nil), POSTs it, and transparently retries on
// badNonce server responses, making at most MaxBadNonceAttempts attempts in
// total.
func (c *Connection) SendSignedRequest(
	ctx context.Context,
	url string,
	claims []byte,
	ctxt SigningContext,
	opts SigningOptions,
) (*Response, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	payload := claims
	if payload == nil {
		payload = []byte("")
	}

	nonce, err := c.takeOrFetchNonce(ctx, ctxt)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxBadNonceAttempts; attempt++ {
		body, err := sign(url, payload, nonce, opts)
		if err != nil {
			return nil, err
		}

		httpResp, err := c.http.PostJOSE(ctx, url, body)
		if err != nil {
			return nil, err
		}
		resp := newResponse(httpResp.HTTP, httpResp.Body)

		if resp.Nonce != "" {
			if err := validateNonce(resp.Nonce); err != nil {
				return nil, err
			}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if resp.Nonce != "" {
				ctxt.StoreNonce(resp.Nonce)
			}
			return resp, nil
		}

		if !resp.IsProblem() {
			return nil, &ProtocolError{
				Msg: fmt.Sprintf("server returned HTTP %d without a problem document", resp.StatusCode),
			}
		}
		p, perr := resp.Problem()
		if perr != nil {
			return nil, perr
		}

		kind := classifyServerError(p)
		if kind != KindBadNonce {
			return nil, toServerError(kind, p, resp)
		}

		// Bad nonce: the response should carry a replacement to retry with;
		// fall back to a fresh fetch if it didn't.
		lastErr = toServerError(kind, p, resp)
		if resp.Nonce != "" {
			nonce = resp.Nonce
		} else {
			nonce, err = c.fetchNonceValue(ctx, ctxt)
			if err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("acme: exhausted %d bad-nonce retry attempts: %w", MaxBadNonceAttempts, lastErr)
}

func toServerError(kind ServerErrorKind, p problem.Problem, resp *Response) *ServerError {
	se := &ServerError{Kind: kind, Problem: p}
	if resp.HasRetry {
		se.RetryAfter = resp.RetryAfter
		se.HasRetry = true
	}
	se.Documents = resp.LinksWithRel("urn:ietf:params:acme:documentation")
	se.TermsURL = firstOrEmpty(resp.LinksWithRel("terms-of-service"))
	return se
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// MarshalClaims is a small convenience used by the resource packages to
// produce the `claims` argument to SendSignedRequest.
func MarshalClaims(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("connection: marshaling claims: %w", err)
	}
	return b, nil
}
