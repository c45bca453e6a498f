package session

import "github.com/acme-go/core/jsonval"

// Metadata exposes a directory's "meta" sub-object with typed accessors.
type Metadata struct {
	obj jsonval.Object
}

// TermsOfService returns the CA's terms-of-service URI, if advertised.
func (m Metadata) TermsOfService() (string, bool) {
	return m.optionalString("termsOfService")
}

// Website returns the CA's website URL, if advertised.
func (m Metadata) Website() (string, bool) {
	return m.optionalString("website")
}

func (m Metadata) optionalString(field string) (string, bool) {
	v := m.obj.Get(field)
	if !v.Present() {
		return "", false
	}
	s, err := v.AsString()
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// CAAIdentities returns the CA's advertised CAA record identity list.
func (m Metadata) CAAIdentities() ([]string, error) {
	if !m.obj.Has("caaIdentities") {
		return nil, nil
	}
	arr, err := m.obj.Get("caaIdentities").AsArray()
	if err != nil {
		return nil, err
	}
	return arr.Strings()
}

// ExternalAccountRequired reports whether the CA requires external account
// binding at registration. Defaults to false when absent.
func (m Metadata) ExternalAccountRequired() (bool, error) {
	if !m.obj.Has("externalAccountRequired") {
		return false, nil
	}
	return m.obj.Get("externalAccountRequired").AsBool()
}

// Profiles returns the CA's selectable order profile names, if any.
func (m Metadata) Profiles() ([]string, error) {
	if !m.obj.Has("profiles") {
		return nil, nil
	}
	arr, err := m.obj.Get("profiles").AsArray()
	if err != nil {
		return nil, err
	}
	return arr.Strings()
}
