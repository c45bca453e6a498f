// The acmectl command line tool drives a complete, non-interactive ACME
// issuance: register an account, create an order, satisfy its
// authorizations with http-01, finalize with a freshly generated keypair,
// and save the resulting certificate chain for one domain list in a single
// run.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/acme-go/core/account"
	"github.com/acme-go/core/certificate"
	"github.com/acme-go/core/challenge"
	"github.com/acme-go/core/order"
	"github.com/acme-go/core/resource"
	"github.com/acme-go/core/session"
	"github.com/acme-go/core/transport"
)

const (
	directoryDefault = "https://acme-staging-v02.api.letsencrypt.org/directory"
	contactDefault   = ""
	outDefault       = "acmectl.cert.pem"
)

func main() {
	directory := flag.String("directory", directoryDefault, "ACME server directory URL")
	domains := flag.String("domains", "", "comma-separated list of domains to request a certificate for")
	contact := flag.String("contact", contactDefault, "optional contact email for the ACME account")
	out := flag.String("out", outDefault, "file to write the issued certificate chain to")
	httpAddr := flag.String("http-responder", "", "address this host serves http-01 responses on, e.g. \"192.0.2.1:80\" (for display only; the responder itself must already be routed to the requested domains)")
	timeout := flag.Duration("timeout", 2*time.Minute, "deadline for authorization/order completion")
	flag.Parse()

	if *domains == "" {
		fmt.Fprintln(os.Stderr, "acmectl: -domains is required")
		os.Exit(2)
	}

	if err := run(*directory, strings.Split(*domains, ","), *contact, *out, *httpAddr, *timeout); err != nil {
		log.Fatalf("acmectl: %v", err)
	}
}

func run(directoryURL string, domains []string, contact, out, httpAddr string, timeout time.Duration) error {
	ctx := context.Background()
	deadline := time.Now().Add(timeout)

	sess, err := session.New(directoryURL, transport.NetworkSettings{})
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating account key: %w", err)
	}

	builder := account.NewBuilder(accountKey).AgreeToTermsOfService()
	if contact != "" {
		builder = builder.AddContact("mailto:" + contact)
	}
	acct, login, err := builder.CreateLogin(ctx, sess)
	if err != nil {
		return fmt.Errorf("registering account: %w", err)
	}
	status, err := acct.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading account status: %w", err)
	}
	log.Printf("account %s registered, status=%s", acct.URL(), status)

	orderBuilder := order.NewBuilder()
	for _, d := range domains {
		orderBuilder = orderBuilder.Domain(strings.TrimSpace(d))
	}
	ord, err := orderBuilder.Create(ctx, sess, login)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	log.Printf("order %s created", ord.URL())

	if httpAddr != "" {
		log.Printf("serving http-01 responses on %s", httpAddr)
	}
	if err := authorizeAll(ctx, ord, login, accountKey, deadline); err != nil {
		return fmt.Errorf("authorizing order: %w", err)
	}

	status, err = ord.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading order status: %w", err)
	}
	if status != "ready" {
		return fmt.Errorf("order %s not ready after authorization (status=%s)", ord.URL(), status)
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating certificate key: %w", err)
	}
	if err := ord.ExecuteWithKeypair(ctx, login, certKey); err != nil {
		return fmt.Errorf("finalizing order: %w", err)
	}
	if err := ord.WaitForCompletion(ctx, deadline, resource.PollOptions{}); err != nil {
		return fmt.Errorf("waiting for order to finalize: %w", err)
	}

	certURL, ok, err := ord.CertificateURL(ctx)
	if err != nil {
		return fmt.Errorf("reading certificate URL: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s finalized without a certificate URL", ord.URL())
	}

	cert := certificate.New(certURL, login)
	pemBytes, err := cert.PEM(ctx)
	if err != nil {
		return fmt.Errorf("downloading certificate: %w", err)
	}
	if err := os.WriteFile(out, pemBytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	log.Printf("wrote certificate chain to %s", out)
	return nil
}

// authorizeAll drives every pending authorization's http-01 challenge to
// completion. The caller is responsible for having a responder in place
// that serves each challenge's key authorization at
// /.well-known/acme-challenge/<token>; acmectl itself only triggers
// validation and polls for the result.
func authorizeAll(ctx context.Context, ord *order.Order, login *session.Login, accountKey *ecdsa.PrivateKey, deadline time.Time) error {
	ids, err := ord.Identifiers(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		authz, err := ord.AuthorizationByIdentifier(ctx, id)
		if err != nil {
			return err
		}
		status, err := authz.Status(ctx)
		if err != nil {
			return err
		}
		if status == "valid" {
			continue
		}

		challenges, err := authz.Challenges(ctx)
		if err != nil {
			return err
		}
		c := challenge.FindChallenge(challenges, "http-01")
		if c == nil {
			return fmt.Errorf("authorization %s offered no http-01 challenge", authz.URL())
		}

		keyAuth, err := c.KeyAuthorization(accountKey.Public())
		if err != nil {
			return err
		}
		log.Printf("serve %q at %s's /.well-known/acme-challenge/%s", keyAuth, id.Value, c.Token)

		if err := c.Trigger(ctx, login); err != nil {
			return err
		}
		if err := authz.WaitForCompletion(ctx, deadline, resource.PollOptions{}); err != nil {
			return err
		}
	}
	return nil
}
