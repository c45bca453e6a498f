package challenge

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/jose"
	"github.com/acme-go/core/jsonval"
)

// fakeLogin returns a canned response body regardless of URL, which is all
// these unit tests need: they exercise the JSON-to-accessor plumbing and the
// derivation math, not HTTP transport (already covered by connection's own
// tests).
type fakeLogin struct {
	body string
}

func (f *fakeLogin) FetchURL(ctx context.Context, url string) (*connection.Response, error) {
	return &connection.Response{StatusCode: 200, Body: []byte(f.body), ContentType: "application/json"}, nil
}

func (f *fakeLogin) Send(ctx context.Context, url string, claims []byte) (*connection.Response, error) {
	return &connection.Response{StatusCode: 200, Body: []byte(f.body), ContentType: "application/json"}, nil
}

func (f *fakeLogin) NewChallenge(obj jsonval.Object) (*Challenge, error) {
	return New(obj, f)
}

func mustObject(t *testing.T, body string) jsonval.Object {
	t.Helper()
	obj, err := jsonval.ParseObject([]byte(body))
	require.NoError(t, err)
	return obj
}

func TestKeyAuthorizationMatchesScenario(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	thumb, err := jose.Thumbprint(key.Public())
	require.NoError(t, err)

	body := `{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"pending"}`
	login := &fakeLogin{body: body}
	chall, err := New(mustObject(t, body), login)
	require.NoError(t, err)

	keyAuth, err := chall.KeyAuthorization(key.Public())
	require.NoError(t, err)
	require.Equal(t, "abc."+thumb, keyAuth)
}

func TestDNS01ValueIsStable(t *testing.T) {
	v1 := DNS01Value("abc.TP")
	v2 := DNS01Value("abc.TP")
	require.Equal(t, v1, v2)
	require.NotEmpty(t, v1)
}

func TestDNS01Record(t *testing.T) {
	rr := DNS01Record("example.com", "abc.TP")
	require.Equal(t, "_acme-challenge.example.com.", rr.Hdr.Name)
	require.Equal(t, []string{DNS01Value("abc.TP")}, rr.Txt)
}

func TestDNSAccountLabelIsDeterministicAndLDH(t *testing.T) {
	label := DNSAccountLabel("https://ca/acct/1")
	label2 := DNSAccountLabel("https://ca/acct/1")
	require.Equal(t, label, label2)
	for _, r := range label {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		require.True(t, valid, "label contains invalid DNS label rune %q", r)
	}
}

func TestTLSALPN01ExtensionIsCriticalACMEIdentifier(t *testing.T) {
	ext, err := TLSALPN01Extension("abc.TP")
	require.NoError(t, err)
	require.True(t, ext.Critical)
	require.Equal(t, acmeIdentifierOID, ext.Id)
}

func TestSplitEmailTokenAndRecombine(t *testing.T) {
	token := "abcdefgh"
	p1, p2 := SplitEmailToken(token)
	require.Equal(t, token, p1+p2)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	want, err := jose.KeyAuthorization(key.Public(), token)
	require.NoError(t, err)
	got, err := EmailReplyAuthorization(p1, p2, key.Public())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestTriggerUpdatesStatus(t *testing.T) {
	login := &fakeLogin{body: `{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"processing"}`}
	chall, err := New(mustObject(t, `{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"pending"}`), login)
	require.NoError(t, err)

	require.NoError(t, chall.Trigger(context.Background(), login))
	status, err := chall.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "processing", status)
}

func TestAuthorizationAccessors(t *testing.T) {
	body := `{
		"status":"pending",
		"identifier":{"type":"dns","value":"example.com"},
		"challenges":[{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"pending"}]
	}`
	login := &fakeLogin{body: body}
	authz := NewAuthorization("https://ca/authz/1", login)

	id, err := authz.Identifier(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dns", id.Type)
	require.Equal(t, "example.com", id.Value)

	challenges, err := authz.Challenges(context.Background())
	require.NoError(t, err)
	require.Len(t, challenges, 1)

	c := FindChallenge(challenges, "http-01")
	require.NotNil(t, c)
	require.Equal(t, "abc", c.Token)

	none := FindChallenge(challenges, "dns-01")
	require.Nil(t, none)
}

// TestChallengeTriggerThenTwoFetchesReachesValid exercises Trigger followed
// by two fetches returning processing then valid, confirming the challenge
// ends up valid.
func TestChallengeTriggerThenTwoFetchesReachesValid(t *testing.T) {
	seqLogin := &sequencedLogin{bodies: []string{
		`{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"processing"}`,
		`{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"valid"}`,
	}}

	chall, err := New(mustObject(t, `{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"pending"}`), seqLogin)
	require.NoError(t, err)

	require.NoError(t, chall.Trigger(context.Background(), seqLogin))

	require.NoError(t, chall.base.Load(context.Background()))
	s1, _ := chall.Status(context.Background())
	require.Equal(t, "processing", s1)

	require.NoError(t, chall.base.Load(context.Background()))
	s2, _ := chall.Status(context.Background())
	require.Equal(t, "valid", s2)
}

type sequencedLogin struct {
	bodies []string
	calls  int
}

func (s *sequencedLogin) FetchURL(ctx context.Context, url string) (*connection.Response, error) {
	i := s.calls
	if i >= len(s.bodies) {
		i = len(s.bodies) - 1
	}
	s.calls++
	return &connection.Response{StatusCode: 200, Body: []byte(s.bodies[i]), ContentType: "application/json"}, nil
}

func (s *sequencedLogin) Send(ctx context.Context, url string, claims []byte) (*connection.Response, error) {
	return &connection.Response{StatusCode: 200, Body: []byte(`{"type":"http-01","url":"https://ca/chall/1","token":"abc","status":"processing"}`), ContentType: "application/json"}, nil
}
