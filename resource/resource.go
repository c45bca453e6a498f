// Package resource implements the lazy-fetch, URL-identified base shared by
// Account, Order, Authorization, and Challenge, plus the status-polling loop
// they build on. Certificate uses this package's Login and LazyLoadError but
// keeps its own PEM cache instead of a Base.
package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/jsonval"
)

// Login is everything a resource needs from its owning login to refresh
// itself: an authenticated POST-as-GET against the resource's own URL. It is
// satisfied by session.Login without resource importing session, the same
// import-cycle-avoidance technique connection.SigningContext uses.
type Login interface {
	FetchURL(ctx context.Context, url string) (*connection.Response, error)
}

// LazyLoadError wraps a fetch failure triggered by an accessor rather than
// an explicit Load call. Go has no distinct checked/unchecked exception
// hierarchy, so this still returns the error explicitly rather than
// panicking, but wrapping it in LazyLoadError lets callers distinguish "this
// accessor had to do I/O and the I/O failed" from a direct, explicit
// Load()/fetch() call failing.
type LazyLoadError struct {
	URL string
	Err error
}

func (e *LazyLoadError) Error() string {
	return fmt.Sprintf("resource: lazy fetch of %s failed: %s", e.URL, e.Err)
}
func (e *LazyLoadError) Unwrap() error { return e.Err }

// Base is the lazy-fetch core. Account, Order, Authorization, and Challenge
// each hold a *Base and add typed accessors over its JSON.
type Base struct {
	URL   string
	login Login

	loaded bool
	json   jsonval.Object

	hasRetry   bool
	retryAfter time.Time

	hasLastMod   bool
	lastModified time.Time

	hasExpires bool
	expires    time.Time
}

// NewBase constructs a Base bound to url and the login used to refresh it.
// The JSON is not fetched until the first Ensure/Load call.
func NewBase(url string, login Login) *Base {
	return &Base{URL: url, login: login}
}

// Loaded reports whether the resource's JSON has been fetched at least once.
func (b *Base) Loaded() bool { return b.loaded }

// Last returns the most recently fetched JSON without triggering a fetch;
// it is the zero Object if nothing has been loaded yet. Poll's status
// callback uses this to read the JSON that refresh just installed.
func (b *Base) Last() jsonval.Object { return b.json }

// RetryAfter returns the most recently observed Retry-After instant, if any.
func (b *Base) RetryAfter() (time.Time, bool) { return b.retryAfter, b.hasRetry }

// LastModified returns the most recently observed Last-Modified instant, if any.
func (b *Base) LastModified() (time.Time, bool) { return b.lastModified, b.hasLastMod }

// Expires returns the most recently observed Expires instant, if any.
func (b *Base) Expires() (time.Time, bool) { return b.expires, b.hasExpires }

// Load unconditionally re-fetches the resource's JSON via POST-as-GET,
// replacing the cached JSON and header-derived fields. It is the explicit,
// non-lazy counterpart to Ensure.
func (b *Base) Load(ctx context.Context) error {
	resp, err := b.login.FetchURL(ctx, b.URL)
	if err != nil {
		return err
	}
	obj, err := resp.JSON()
	if err != nil {
		return err
	}

	b.json = obj
	b.loaded = true
	b.retryAfter, b.hasRetry = resp.RetryAfter, resp.HasRetry
	b.lastModified, b.hasLastMod = resp.LastModified, resp.HasLastMod
	b.expires, b.hasExpires = resp.Expires, resp.HasExpires
	return nil
}

// Ensure returns the cached JSON, fetching it first if this is the first
// access. A fetch triggered this way that fails is wrapped in
// LazyLoadError; an explicit Load() call surfaces the raw error instead.
func (b *Base) Ensure(ctx context.Context) (jsonval.Object, error) {
	if b.loaded {
		return b.json, nil
	}
	if err := b.Load(ctx); err != nil {
		return jsonval.Object{}, &LazyLoadError{URL: b.URL, Err: err}
	}
	return b.json, nil
}

// Set installs obj as the resource's cached JSON directly, used when a
// creation response (e.g. newOrder's 201 body) already carries the full
// representation and a redundant fetch would be wasteful.
func (b *Base) Set(obj jsonval.Object, resp *connection.Response) {
	b.json = obj
	b.loaded = true
	if resp != nil {
		b.retryAfter, b.hasRetry = resp.RetryAfter, resp.HasRetry
		b.lastModified, b.hasLastMod = resp.LastModified, resp.HasLastMod
		b.expires, b.hasExpires = resp.Expires, resp.HasExpires
	}
}

// DeadlineError reports that a polling loop's caller-supplied deadline
// elapsed before the resource reached a terminal status.
type DeadlineError struct {
	URL    string
	Status string
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("resource: %s: deadline exceeded waiting past status %q", e.URL, e.Status)
}

const (
	minPollInterval = 1 * time.Second
	maxPollInterval = 30 * time.Second
)

// PollOptions configures Poll. Clock defaults to the real wall clock
// (clock.New()); tests inject clock.NewFake() the way boulder's own
// polling/backoff tests do, so no test actually sleeps.
type PollOptions struct {
	Clock clock.Clock
}

func (o PollOptions) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.New()
}

// Poll repeatedly calls refresh (typically Load) and status (reading the
// just-refreshed resource's status field) until status returns one of the
// terminal values, or deadline elapses. Between attempts it sleeps for
// max(retryAfter-now, minPollInterval), doubling an exponential backoff
// interval (capped at maxPollInterval) whenever the server gave no
// Retry-After hint.
func Poll(
	ctx context.Context,
	base *Base,
	deadline time.Time,
	terminal map[string]bool,
	refresh func(ctx context.Context) error,
	status func() string,
	opts PollOptions,
) error {
	clk := opts.clock()
	backoff := minPollInterval

	for {
		if err := refresh(ctx); err != nil {
			return err
		}
		if terminal[status()] {
			return nil
		}

		now := clk.Now()
		if !now.Before(deadline) {
			return &DeadlineError{URL: base.URL, Status: status()}
		}

		wait := backoff
		if ra, ok := base.RetryAfter(); ok {
			if d := ra.Sub(now); d > wait {
				wait = d
			}
		} else {
			backoff *= 2
			if backoff > maxPollInterval {
				backoff = maxPollInterval
			}
		}

		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}
		clk.Sleep(wait)
	}
}
