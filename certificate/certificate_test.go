package certificate

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/transport"
)

func pemFixture(t *testing.T) ([]byte, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return pemBytes, cert
}

type fakeLogin struct {
	resp *connection.Response
	err  error
	urls []string
}

func (f *fakeLogin) FetchURL(ctx context.Context, url string) (*connection.Response, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeLogin) Send(ctx context.Context, url string, claims []byte) (*connection.Response, error) {
	f.urls = append(f.urls, url)
	return &connection.Response{StatusCode: 200}, nil
}

type fakeEmbeddedSender struct {
	calls int
}

func (f *fakeEmbeddedSender) SendEmbedded(ctx context.Context, url string, claims []byte, signer crypto.Signer) (*connection.Response, error) {
	f.calls++
	return &connection.Response{StatusCode: 200}, nil
}

func TestRevokeSendsEncodedCertificate(t *testing.T) {
	_, cert := pemFixture(t)
	login := &fakeLogin{}
	reason := ReasonKeyCompromise
	err := Revoke(context.Background(), "https://ca/revoke-cert", login, cert, &reason)
	require.NoError(t, err)
	require.Equal(t, []string{"https://ca/revoke-cert"}, login.urls)
}

func TestRevokeClaimsShape(t *testing.T) {
	_, cert := pemFixture(t)
	reason := ReasonSuperseded
	claims, err := revokeClaims(cert, &reason)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(claims, &decoded))
	require.NotEmpty(t, decoded["certificate"])
	require.EqualValues(t, 4, decoded["reason"])
}

func TestRevokeWithCertificateKeyUsesEmbeddedSender(t *testing.T) {
	_, cert := pemFixture(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	sender := &fakeEmbeddedSender{}

	require.NoError(t, RevokeWithCertificateKey(context.Background(), "https://ca/revoke-cert", sender, cert, key, nil))
	require.Equal(t, 1, sender.calls)
}

func TestChainDownloadAndParse(t *testing.T) {
	pemBytes, cert := pemFixture(t)
	login := &fakeLogin{resp: &connection.Response{
		StatusCode:  200,
		ContentType: "application/pem-certificate-chain",
		Body:        pemBytes,
	}}
	c := New("https://ca/cert/1", login)

	chain, err := c.Chain(context.Background())
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.Equal(t, cert.SerialNumber, chain[0].SerialNumber)

	leaf, err := c.Leaf(context.Background())
	require.NoError(t, err)
	require.Equal(t, cert.Raw, leaf.Raw)

	// second call must not re-fetch
	_, err = c.Chain(context.Background())
	require.NoError(t, err)
	require.Len(t, login.urls, 1)
}

func TestAlternateChainFetchesLinkTarget(t *testing.T) {
	pemBytes, _ := pemFixture(t)
	altBytes, altCert := pemFixture(t)

	login := &fakeLogin{resp: &connection.Response{
		StatusCode:  200,
		ContentType: "application/pem-certificate-chain",
		Body:        pemBytes,
		Links:       []transport.Link{{Rel: "alternate", Target: "https://ca/cert/1/alt/0"}},
	}}
	c := New("https://ca/cert/1", login)

	urls, err := c.AlternateURLs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://ca/cert/1/alt/0"}, urls)

	login.resp = &connection.Response{
		StatusCode:  200,
		ContentType: "application/pem-certificate-chain",
		Body:        altBytes,
	}
	chain, err := c.AlternateChain(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.Equal(t, altCert.SerialNumber, chain[0].SerialNumber)
}
