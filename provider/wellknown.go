package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/acme-go/core/challenge"
	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/jsonval"
	"github.com/acme-go/core/resource"
	"github.com/acme-go/core/transport"
)

// wellKnownProvider implements the `acme://<provider-host>[/<path>]`
// dispatch table: a small, fixed set of bundled CAs selected by host name
// (and occasionally a path suffix for staging/algorithm variants),
// translated to their real directory URL.
type wellKnownProvider struct{}

// directories maps each acme:// host to its production directory URL, or to
// a function of the request path for hosts with variants (staging, key
// algorithm).
var directories = map[string]func(path string) (string, error){
	"letsencrypt.org": func(path string) (string, error) {
		if path == "/staging" {
			return "https://acme-staging-v02.api.letsencrypt.org/directory", nil
		}
		if path == "" || path == "/" {
			return "https://acme-v02.api.letsencrypt.org/directory", nil
		}
		return "", fmt.Errorf("provider: unknown letsencrypt.org variant %q", path)
	},
	"pki.goog": func(path string) (string, error) {
		if path == "/staging" {
			return "https://dv.acme-v02.test-api.pki.goog/directory", nil
		}
		if path == "" || path == "/" {
			return "https://dv.acme-v02.api.pki.goog/directory", nil
		}
		return "", fmt.Errorf("provider: unknown pki.goog variant %q", path)
	},
	"zerossl.com": func(path string) (string, error) {
		if path == "" || path == "/" {
			return "https://acme.zerossl.com/v2/DV90", nil
		}
		return "", fmt.Errorf("provider: unknown zerossl.com variant %q", path)
	},
	"ssl.com": func(path string) (string, error) {
		switch path {
		case "/rsa":
			return "https://acme.ssl.com/sslcom-dv-rsa", nil
		case "/ecc":
			return "https://acme.ssl.com/sslcom-dv-ecc", nil
		case "/staging":
			return "https://acme-try.ssl.com/sslcom-dv-rsa", nil
		case "", "/":
			return "https://acme.ssl.com/sslcom-dv-rsa", nil
		}
		return "", fmt.Errorf("provider: unknown ssl.com variant %q", path)
	},
	"actalis.com": func(path string) (string, error) {
		if path == "" || path == "/" {
			return "https://acme-ssl.actalis.com/acme/directory", nil
		}
		return "", fmt.Errorf("provider: unknown actalis.com variant %q", path)
	},
}

// pebbleDefaultAddr is Pebble's default HTTPS listen address in the Pebble
// test-fixture documentation/config.
const pebbleDefaultAddr = "localhost:14000"

// parseAcmeURI splits an acme://host[/path] URI into its host and path.
func parseAcmeURI(uri string) (host, path string, ok bool) {
	if !strings.HasPrefix(uri, "acme://") {
		return "", "", false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", false
	}
	return u.Host, u.Path, true
}

func (wellKnownProvider) Accepts(uri string) bool {
	host, _, ok := parseAcmeURI(uri)
	if !ok {
		return false
	}
	if host == "pebble" || strings.HasPrefix(host, "pebble:") {
		return true
	}
	_, known := directories[host]
	return known
}

func (wellKnownProvider) Resolve(uri string) (string, error) {
	host, path, ok := parseAcmeURI(uri)
	if !ok {
		return "", fmt.Errorf("provider: %q is not an acme:// URI", uri)
	}

	if host == "pebble" || strings.HasPrefix(host, "pebble:") {
		addr := pebbleDefaultAddr
		if strings.HasPrefix(host, "pebble:") {
			addr = strings.TrimPrefix(host, "pebble:")
		}
		if trimmed := strings.TrimPrefix(path, "/"); trimmed != "" {
			addr = trimmed
		}
		return "https://" + addr + "/dir", nil
	}

	resolve, known := directories[host]
	if !known {
		return "", &ErrNoProvider{URI: uri}
	}
	return resolve(path)
}

func (wellKnownProvider) Connect(uri string, settings transport.NetworkSettings) (*connection.Connection, error) {
	return connection.New(settings), nil
}

func (wellKnownProvider) NewChallenge(login resource.Login, obj jsonval.Object) (*challenge.Challenge, error) {
	return challenge.New(obj, login)
}
