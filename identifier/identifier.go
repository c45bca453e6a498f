// Package identifier implements the ACME (type, value) identifier pair used
// throughout order, authorization and CSR construction: dns, ip, and email,
// each with its own canonicalized value form.
package identifier

import (
	"fmt"
	"strings"

	"github.com/acme-go/core/jose"
)

const (
	TypeDNS   = "dns"
	TypeIP    = "ip"
	TypeEmail = "email"
)

// Identifier is a (type, value) pair naming a subject a certificate may
// cover. DNS values are stored in ACE (Punycode) lowercase form with a
// wildcard "*." prefix preserved; email values are stored lowercase.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewDNSIdentifier builds a "dns" identifier, normalizing domain to its
// canonical ACE lowercase form via jose.ToACE.
func NewDNSIdentifier(domain string) (Identifier, error) {
	ace, err := jose.ToACE(domain)
	if err != nil {
		return Identifier{}, fmt.Errorf("identifier: %w", err)
	}
	return Identifier{Type: TypeDNS, Value: ace}, nil
}

// NewIPIdentifier builds an "ip" identifier. The value is passed through
// unchanged; callers are expected to have already parsed/validated the
// address.
func NewIPIdentifier(addr string) Identifier {
	return Identifier{Type: TypeIP, Value: addr}
}

// NewEmailIdentifier builds an "email" identifier for the S/MIME extension,
// lower-casing the value the way DNS identifiers are normalized.
func NewEmailIdentifier(addr string) Identifier {
	return Identifier{Type: TypeEmail, Value: strings.ToLower(strings.TrimSpace(addr))}
}

// Equal compares two identifiers case-insensitively on Type, and with a
// canonical comparison on Value (DNS/email values are already lower-cased
// by their constructors, so a direct string compare suffices once both
// sides went through one).
func (id Identifier) Equal(other Identifier) bool {
	return strings.EqualFold(id.Type, other.Type) && id.Value == other.Value
}

// Domain reports the bare domain name for a "dns" identifier, stripping any
// wildcard "*." prefix. It returns ok=false for non-DNS identifiers.
func (id Identifier) Domain() (domain string, wildcard bool, ok bool) {
	if !strings.EqualFold(id.Type, TypeDNS) {
		return "", false, false
	}
	if strings.HasPrefix(id.Value, "*.") {
		return id.Value[2:], true, true
	}
	return id.Value, false, true
}

func (id Identifier) String() string {
	return id.Type + ":" + id.Value
}
