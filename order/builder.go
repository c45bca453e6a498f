package order

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acme-go/core/connection"
	"github.com/acme-go/core/identifier"
	"github.com/acme-go/core/session"
)

// Builder accumulates a newOrder request, per RFC 8555 section 7.4.
type Builder struct {
	identifiers []identifier.Identifier
	notBefore   string
	notAfter    string
	profile     string
}

// NewBuilder starts an empty order request.
func NewBuilder() *Builder {
	return &Builder{}
}

// Domain adds a DNS identifier built from name via identifier.NewDNSIdentifier.
func (b *Builder) Domain(name string) *Builder {
	id, err := identifier.NewDNSIdentifier(name)
	if err != nil {
		// ToACE failures surface at Create time via the malformed identifier
		// instead of here, keeping Builder's fluent methods error-free; store
		// the raw value so Create can still report something recognizable.
		id = identifier.Identifier{Type: identifier.TypeDNS, Value: name}
	}
	b.identifiers = append(b.identifiers, id)
	return b
}

// Identifier adds an arbitrary identifier (dns, ip, email, ...).
func (b *Builder) Identifier(id identifier.Identifier) *Builder {
	b.identifiers = append(b.identifiers, id)
	return b
}

// NotBefore sets the order's requested notBefore timestamp.
func (b *Builder) NotBefore(t string) *Builder {
	b.notBefore = t
	return b
}

// NotAfter sets the order's requested notAfter timestamp.
func (b *Builder) NotAfter(t string) *Builder {
	b.notAfter = t
	return b
}

// Profile selects one of the CA's advertised order profiles. Create
// validates that it is one of the directory metadata's profiles when the CA
// advertises any.
func (b *Builder) Profile(name string) *Builder {
	b.profile = name
	return b
}

type newOrderRequest struct {
	Identifiers []identifier.Identifier `json:"identifiers"`
	NotBefore   string                  `json:"notBefore,omitempty"`
	NotAfter    string                  `json:"notAfter,omitempty"`
	Profile     string                  `json:"profile,omitempty"`
}

// Create posts the order to newOrder, per RFC 8555 section 7.4, and returns
// the resulting Order bound to login.
func (b *Builder) Create(ctx context.Context, sess *session.Session, login *session.Login) (*Order, error) {
	if len(b.identifiers) == 0 {
		return nil, fmt.Errorf("order: at least one identifier is required")
	}
	if err := b.checkProfile(ctx, sess); err != nil {
		return nil, err
	}

	newOrderURL, err := sess.EndpointURL(ctx, "newOrder")
	if err != nil {
		return nil, err
	}

	claims, err := json.Marshal(newOrderRequest{
		Identifiers: b.identifiers,
		NotBefore:   b.notBefore,
		NotAfter:    b.notAfter,
		Profile:     b.profile,
	})
	if err != nil {
		return nil, err
	}

	resp, err := login.Send(ctx, newOrderURL, claims)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, &connection.ProtocolError{
			Msg: fmt.Sprintf("order creation returned HTTP %d", resp.StatusCode),
		}
	}
	if resp.Location == "" {
		return nil, &connection.ProtocolError{Msg: "order creation response had no Location header"}
	}

	obj, err := resp.JSON()
	if err != nil {
		return nil, err
	}

	ord := New(resp.Location, login)
	ord.base.Set(obj, resp)
	return ord, nil
}

func (b *Builder) checkProfile(ctx context.Context, sess *session.Session) error {
	if b.profile == "" {
		return nil
	}
	meta, err := sess.Metadata(ctx)
	if err != nil {
		return err
	}
	profiles, err := meta.Profiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return nil
	}
	for _, p := range profiles {
		if p == b.profile {
			return nil
		}
	}
	return fmt.Errorf("order: profile %q is not one of the CA's advertised profiles %v", b.profile, profiles)
}
