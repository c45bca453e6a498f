package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.Equal(t, "application/jose+json", r.Header.Get("Content-Type"))
		}
		w.Header().Set("Replay-Nonce", "abc123")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(NetworkSettings{})
	resp, err := c.Get(context.Background(), srv.URL, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.HTTP.StatusCode)
	require.Equal(t, "abc123", resp.HTTP.Header.Get("Replay-Nonce"))

	resp, err = c.PostJOSE(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.HTTP.StatusCode)
}

func TestParseLinksWithRel(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Add("Link", `<https://ca/cert/1/alt>; rel="alternate", </dir>; rel="index"`)
	base, _ := url.Parse("https://ca/cert/1")

	alts := LinksWithRel(resp, base, "alternate")
	require.Equal(t, []string{"https://ca/cert/1/alt"}, alts)

	idx := LinksWithRel(resp, base, "index")
	require.Equal(t, []string{"https://ca/dir"}, idx)
}

func TestParseRetryAfterDeltaSeconds(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2, ok := ParseRetryAfter("120", now)
	require.True(t, ok)
	require.Equal(t, now.Add(120*time.Second), t2)
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, ok := ParseRetryAfter(now.Add(time.Hour).Format(http.TimeFormat), now)
	require.True(t, ok)
}

func TestParseRetryAfterEmpty(t *testing.T) {
	_, ok := ParseRetryAfter("", time.Now())
	require.False(t, ok)
}
