package challenge

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/letsencrypt/challtestsrv"
	"github.com/stretchr/testify/require"
)

// TestHTTP01AgainstChallengeServer drives an actual http-01 responder
// (challtestsrv, an in-process challenge server) with the key authorization
// this package derives, and confirms a real GET against the well-known path
// returns it unchanged. Unlike the other tests in this package, which stub
// out the ACME server entirely, this one exercises the validation side a
// CA would actually perform.
func TestHTTP01AgainstChallengeServer(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	const token = "challtestsrv-http01-token"
	addr := "127.0.0.1:28080"

	srv, err := challtestsrv.New(challtestsrv.Config{
		HTTPOneAddrs: []string{addr},
	})
	require.NoError(t, err)
	go srv.Run()
	defer srv.Shutdown()

	body := `{"type":"http-01","url":"https://ca/chall/1","token":"` + token + `","status":"pending"}`
	chall, err := New(mustObject(t, body), &fakeLogin{body: body})
	require.NoError(t, err)

	keyAuth, err := chall.KeyAuthorization(key.Public())
	require.NoError(t, err)

	srv.AddHTTPOneChallenge(token, keyAuth)
	defer srv.DeleteHTTPOneChallenge(token)

	url := fmt.Sprintf("http://%s/.well-known/acme-challenge/%s", addr, token)

	var resp *http.Response
	for attempt := 0; attempt < 20; attempt++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, keyAuth, string(got))
}
