package account

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acme-go/core/session"
	"github.com/acme-go/core/transport"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// directoryServer builds a minimal httptest server advertising newAccount
// and newNonce, then dispatching other paths to extra.
func directoryServer(t *testing.T, extra map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range extra {
		mux.HandleFunc(path, h)
	}

	var srv *httptest.Server
	mux.HandleFunc("/dir", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"newNonce": "` + srv.URL + `/new-nonce",
			"newAccount": "` + srv.URL + `/new-acct",
			"keyChange": "` + srv.URL + `/key-change"
		}`))
	})
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "nonce-1")
		w.WriteHeader(http.StatusOK)
	})

	srv = httptest.NewServer(mux)
	return srv
}

func TestCreateLoginRegistersAccount(t *testing.T) {
	var gotBody []byte
	srv := directoryServer(t, map[string]http.HandlerFunc{
		"/new-acct": func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			gotBody = b
			w.Header().Set("Replay-Nonce", "nonce-2")
			w.Header().Set("Location", srv200URL(r)+"/acct/1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"status":"valid","contact":["mailto:a@e.com"]}`))
		},
	})
	defer srv.Close()

	sess, err := session.New(srv.URL+"/dir", transport.NetworkSettings{})
	require.NoError(t, err)

	key := testKey(t)
	builder := NewBuilder(key).AddContact("mailto:a@e.com").AgreeToTermsOfService()

	acct, login, err := builder.CreateLogin(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, login)
	require.Contains(t, acct.URL(), "/acct/1")

	status, err := acct.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "valid", status)

	require.NotEmpty(t, gotBody)
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	require.Contains(t, envelope, "protected")
}

func TestCreateOnlyExistingFailsOn201(t *testing.T) {
	srv := directoryServer(t, map[string]http.HandlerFunc{
		"/new-acct": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Replay-Nonce", "nonce-2")
			w.Header().Set("Location", "https://ca/acct/1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"status":"valid"}`))
		},
	})
	defer srv.Close()

	sess, err := session.New(srv.URL+"/dir", transport.NetworkSettings{})
	require.NoError(t, err)

	key := testKey(t)
	builder := NewBuilder(key).OnlyExisting()

	_, _, err = builder.CreateLogin(context.Background(), sess)
	require.Error(t, err)
	require.IsType(t, ErrNotExisting{}, err)
}

func TestDeactivatePostsStatus(t *testing.T) {
	var deactivateCalls int
	srv := directoryServer(t, map[string]http.HandlerFunc{
		"/new-acct": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Replay-Nonce", "nonce-2")
			w.Header().Set("Location", "")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"status":"valid"}`))
		},
		"/acct/1": func(w http.ResponseWriter, r *http.Request) {
			deactivateCalls++
			w.Header().Set("Replay-Nonce", "nonce-3")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"deactivated"}`))
		},
	})
	defer srv.Close()

	sess, err := session.New(srv.URL+"/dir", transport.NetworkSettings{})
	require.NoError(t, err)

	key := testKey(t)
	login := &session.Login{Session: sess, AccountURL: srv.URL + "/acct/1", Key: key}
	acct := New(srv.URL+"/acct/1", login)

	require.NoError(t, acct.Deactivate(context.Background(), login))
	require.Equal(t, 1, deactivateCalls)

	status, err := acct.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "deactivated", status)
}

func srv200URL(r *http.Request) string {
	return "http://" + r.Host
}
