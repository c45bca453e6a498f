package order

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/require"

	"github.com/acme-go/core/certificate"
	"github.com/acme-go/core/challenge"
	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/identifier"
	"github.com/acme-go/core/jsonval"
	"github.com/acme-go/core/resource"
	"github.com/acme-go/core/transport"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// fakeLogin returns successive canned bodies on each FetchURL/Send call, the
// same sequencing technique challenge_test.go's sequencedLogin uses, so
// WaitForCompletion can be driven through multiple polls without a real
// server.
type fakeLogin struct {
	bodies []string
	calls  int

	sendBody  string
	sendCalls int
}

func (f *fakeLogin) FetchURL(ctx context.Context, url string) (*connection.Response, error) {
	i := f.calls
	if i >= len(f.bodies) {
		i = len(f.bodies) - 1
	}
	f.calls++
	return &connection.Response{StatusCode: 200, Body: []byte(f.bodies[i]), ContentType: "application/json"}, nil
}

func (f *fakeLogin) Send(ctx context.Context, url string, claims []byte) (*connection.Response, error) {
	f.sendCalls++
	body := f.sendBody
	if body == "" {
		body = f.bodies[len(f.bodies)-1]
	}
	return &connection.Response{StatusCode: 200, Body: []byte(body), ContentType: "application/json"}, nil
}

func (f *fakeLogin) NewChallenge(obj jsonval.Object) (*challenge.Challenge, error) {
	return challenge.New(obj, f)
}

func mustObject(t *testing.T, body string) jsonval.Object {
	t.Helper()
	obj, err := jsonval.ParseObject([]byte(body))
	require.NoError(t, err)
	return obj
}

const readyOrderBody = `{
	"status": "ready",
	"identifiers": [{"type":"dns","value":"example.com"}],
	"authorizations": ["https://ca/authz/1"],
	"finalize": "https://ca/order/1/finalize"
}`

func newTestOrder(t *testing.T, body string, login *fakeLogin) *Order {
	t.Helper()
	ord := New("https://ca/order/1", login)
	ord.base.Set(mustObject(t, body), nil)
	return ord
}

func TestOrderAccessors(t *testing.T) {
	login := &fakeLogin{bodies: []string{readyOrderBody}}
	ord := newTestOrder(t, readyOrderBody, login)

	status, err := ord.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ready", status)

	ids, err := ord.Identifiers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []identifier.Identifier{{Type: "dns", Value: "example.com"}}, ids)

	_, ok, err := ord.CertificateURL(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrderAuthorizationByIdentifier(t *testing.T) {
	login := &fakeLogin{bodies: []string{
		`{"identifier":{"type":"dns","value":"example.com"},"status":"pending","expires":"2030-01-01T00:00:00Z","challenges":[]}`,
	}}
	ord := newTestOrder(t, readyOrderBody, login)

	authz, err := ord.AuthorizationByIdentifier(context.Background(), identifier.Identifier{Type: "dns", Value: "example.com"})
	require.NoError(t, err)
	require.Equal(t, "https://ca/authz/1", authz.URL())

	_, err = ord.AuthorizationByIdentifier(context.Background(), identifier.Identifier{Type: "dns", Value: "other.com"})
	require.Error(t, err)
}

func TestWaitForCompletionReachesValid(t *testing.T) {
	login := &fakeLogin{bodies: []string{
		`{"status":"processing","identifiers":[{"type":"dns","value":"example.com"}],"authorizations":[],"finalize":"https://ca/order/1/finalize"}`,
		`{"status":"processing","identifiers":[{"type":"dns","value":"example.com"}],"authorizations":[],"finalize":"https://ca/order/1/finalize"}`,
		`{"status":"valid","identifiers":[{"type":"dns","value":"example.com"}],"authorizations":[],"finalize":"https://ca/order/1/finalize","certificate":"https://ca/cert/1"}`,
	}}
	ord := New("https://ca/order/1", login)

	clk := clock.NewFake()
	err := ord.WaitForCompletion(context.Background(), clk.Now().Add(time.Hour), resource.PollOptions{Clock: clk})
	require.NoError(t, err)

	status, err := ord.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "valid", status)
	require.Equal(t, 3, login.calls)
}

func TestExecutePostsCSRAndUpdatesState(t *testing.T) {
	login := &fakeLogin{
		bodies:   []string{readyOrderBody},
		sendBody: `{"status":"processing","identifiers":[{"type":"dns","value":"example.com"}],"authorizations":[],"finalize":"https://ca/order/1/finalize"}`,
	}
	ord := newTestOrder(t, readyOrderBody, login)

	key := testKey(t)
	err := ord.ExecuteWithKeypair(context.Background(), login, key)
	require.NoError(t, err)
	require.Equal(t, 1, login.sendCalls)

	status, err := ord.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "processing", status)
}

// TestFinalizeAndDownloadScenario exercises the finalize-then-download flow:
// an order reaches ready, is finalized, transitions to valid with a
// certificate URL, and the resulting chain (plus its alternate) can be
// downloaded.
func TestFinalizeAndDownloadScenario(t *testing.T) {
	login := &fakeLogin{
		bodies:   []string{readyOrderBody},
		sendBody: `{"status":"valid","identifiers":[{"type":"dns","value":"example.com"}],"authorizations":[],"finalize":"https://ca/order/1/finalize","certificate":"https://ca/cert/1"}`,
	}
	ord := newTestOrder(t, readyOrderBody, login)

	key := testKey(t)
	require.NoError(t, ord.ExecuteWithKeypair(context.Background(), login, key))

	certURL, ok, err := ord.CertificateURL(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://ca/cert/1", certURL)

	certLogin := &certDownloadLogin{
		pem: concatPEM(t, 3),
		links: []string{"https://ca/cert/1/alt"},
	}
	cert := certificate.New(certURL, certLogin)
	chain, err := cert.Chain(context.Background())
	require.NoError(t, err)
	require.Len(t, chain, 3)

	alts, err := cert.AlternateURLs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://ca/cert/1/alt"}, alts)
}

// certDownloadLogin serves a fixed PEM chain body with an alternate Link
// header, modelling the certificate download leg of the scenario above.
type certDownloadLogin struct {
	pem   []byte
	links []string
}

func (l *certDownloadLogin) FetchURL(ctx context.Context, url string) (*connection.Response, error) {
	resp := &connection.Response{
		StatusCode:  200,
		Body:        l.pem,
		ContentType: "application/pem-certificate-chain",
	}
	for _, target := range l.links {
		resp.Links = append(resp.Links, transport.Link{Rel: "alternate", Target: target})
	}
	return resp, nil
}

// concatPEM builds n self-signed certificates and concatenates their PEM
// encodings, modelling a multi-certificate chain download body.
func concatPEM(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		key := testKey(t)
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(int64(i + 1)),
			Subject:      pkix.Name{CommonName: "leaf"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
		require.NoError(t, err)
		require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	}
	return buf.Bytes()
}
