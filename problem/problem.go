// Package problem decodes RFC 7807 "application/problem+json" documents as
// used by every ACME error response (RFC 8555 section 6.7).
package problem

import (
	"fmt"

	"github.com/acme-go/core/jose"
	"github.com/acme-go/core/jsonval"
)

// Problem is a parsed RFC 7807 problem document. Kind is the ACME error
// identifier with the "urn:ietf:params:acme:error:" (or legacy
// "urn:acme:error:") prefix stripped; if the server used a foreign type URN
// entirely, Kind is empty and Foreign is true.
type Problem struct {
	Type        string
	Kind        string
	Foreign     bool
	Detail      string
	Instance    string
	Identifier  *Identifier
	SubProblems []Problem
}

// Identifier names the subject of a (sub-)problem, e.g. which identifier in
// a multi-domain order a validation failure applies to.
type Identifier struct {
	Type  string
	Value string
}

func (p Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("acme problem %s: %s", p.Type, p.Detail)
	}
	return fmt.Sprintf("acme problem %s", p.Type)
}

// Parse decodes a problem+json body into a Problem tree.
func Parse(body []byte) (Problem, error) {
	obj, err := jsonval.ParseObject(body)
	if err != nil {
		return Problem{}, fmt.Errorf("problem: invalid problem document: %w", err)
	}
	return fromObject(obj)
}

func fromObject(obj jsonval.Object) (Problem, error) {
	typ, err := obj.Get("type").AsString()
	if err != nil {
		return Problem{}, err
	}
	detail, err := obj.Get("detail").AsString()
	if err != nil {
		return Problem{}, err
	}
	instance, err := obj.Get("instance").AsString()
	if err != nil {
		return Problem{}, err
	}

	p := Problem{
		Type:     typ,
		Detail:   detail,
		Instance: instance,
	}
	if kind, ok := jose.StripErrorPrefix(typ); ok {
		p.Kind = kind
	} else {
		p.Foreign = true
	}

	if identObj, err := obj.Get("identifier").AsObject(); err == nil && obj.Has("identifier") {
		idType, err := identObj.Get("type").AsString()
		if err != nil {
			return Problem{}, err
		}
		idValue, err := identObj.Get("value").AsString()
		if err != nil {
			return Problem{}, err
		}
		p.Identifier = &Identifier{Type: idType, Value: idValue}
	}

	if obj.Has("subproblems") {
		arr, err := obj.Get("subproblems").AsArray()
		if err != nil {
			return Problem{}, err
		}
		for _, v := range arr.Values() {
			sub, err := v.AsObject()
			if err != nil {
				return Problem{}, err
			}
			subProblem, err := fromObject(sub)
			if err != nil {
				return Problem{}, err
			}
			p.SubProblems = append(p.SubProblems, subProblem)
		}
	}

	return p, nil
}
