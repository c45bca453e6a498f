package connection

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/acme-go/core/jsonval"
	"github.com/acme-go/core/problem"
	"github.com/acme-go/core/transport"
)

// Response is a decoded ACME HTTP exchange: the raw status/body plus the
// header fields (Location, Link, Retry-After, Last-Modified, Expires,
// Replay-Nonce) every caller needs without re-parsing http.Header by hand.
type Response struct {
	StatusCode   int
	Body         []byte
	Location     string
	Links        []transport.Link
	RetryAfter   time.Time
	HasRetry     bool
	LastModified time.Time
	HasLastMod   bool
	Expires      time.Time
	HasExpires   bool
	ContentType  string
	Nonce        string
	date         time.Time
}

func newResponse(httpResp *http.Response, body []byte) *Response {
	base := httpResp.Request.URL
	date := transport.ResponseDate(httpResp, time.Now())

	r := &Response{
		StatusCode:  httpResp.StatusCode,
		Body:        body,
		Location:    httpResp.Header.Get("Location"),
		Links:       transport.ParseLinks(httpResp, base),
		ContentType: httpResp.Header.Get("Content-Type"),
		Nonce:       httpResp.Header.Get("Replay-Nonce"),
		date:        date,
	}

	if ra := httpResp.Header.Get("Retry-After"); ra != "" {
		if t, ok := transport.ParseRetryAfter(ra, date); ok {
			r.RetryAfter, r.HasRetry = t, true
		}
	}
	if lm := httpResp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			r.LastModified, r.HasLastMod = t, true
		}
	}
	if exp := httpResp.Header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			r.Expires, r.HasExpires = t, true
		}
	}

	return r
}

// LinksWithRel filters the response's Link headers to one relation.
func (r *Response) LinksWithRel(rel string) []string {
	var out []string
	for _, l := range r.Links {
		if l.Rel == rel {
			out = append(out, l.Target)
		}
	}
	return out
}

var nonceFormat = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

func validateNonce(nonce string) error {
	if nonce == "" || !nonceFormat.MatchString(nonce) {
		return &ProtocolError{Msg: fmt.Sprintf("malformed Replay-Nonce header %q", nonce)}
	}
	return nil
}

// JSON decodes the body as a jsonval.Object, requiring a JSON-ish content
// type (RFC 8555 responses use application/json; problem documents use
// application/problem+json).
func (r *Response) JSON() (jsonval.Object, error) {
	switch r.ContentType {
	case "application/json", "application/problem+json":
	default:
		if len(r.ContentType) == 0 {
			return jsonval.Object{}, &ProtocolError{Msg: "response has no Content-Type"}
		}
		return jsonval.Object{}, &ProtocolError{
			Msg: fmt.Sprintf("unexpected Content-Type %q for JSON response", r.ContentType),
		}
	}
	obj, err := jsonval.ParseObject(r.Body)
	if err != nil {
		return jsonval.Object{}, &ProtocolError{Msg: "decoding JSON body", Err: err}
	}
	return obj, nil
}

// Problem decodes the body as an RFC 7807 problem document.
func (r *Response) Problem() (problem.Problem, error) {
	return problem.Parse(r.Body)
}

// IsProblem reports whether the response used the problem+json media type.
func (r *Response) IsProblem() bool {
	return r.ContentType == "application/problem+json"
}

// Certificates decodes the body as an ordered PEM certificate chain
// (application/pem-certificate-chain, RFC 8555 section 7.4.2), end-entity
// first.
func (r *Response) Certificates() ([]*x509.Certificate, error) {
	if r.ContentType != "application/pem-certificate-chain" {
		return nil, &ProtocolError{
			Msg: fmt.Sprintf("unexpected Content-Type %q for certificate response", r.ContentType),
		}
	}

	var certs []*x509.Certificate
	rest := r.Body
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, &ProtocolError{Msg: "parsing certificate chain", Err: err}
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, &ProtocolError{Msg: "certificate chain contained no CERTIFICATE blocks"}
	}
	return certs, nil
}
