package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownField is returned when a caller asks for a field that cannot be projected.
var ErrUnknownField = errors.New("unknown field")

// passwordField is accepted in a field list and always dropped.
const passwordField = "password"

// Projection enumerates the optional fields a resource can expose on top of
// its base fields.
type Projection []string

var (
	UserProjection  = Projection{"locations", "business", "employments", "educations", "following"}
	TopicProjection = Projection{"introduction"}
)

// Selection is the set of optional fields chosen for one read.
type Selection map[string]struct{}

// Has reports whether field was selected.
func (s Selection) Has(field string) bool {
	_, ok := s[field]
	return ok
}

// Parse turns a semicolon separated field list into a Selection. An empty
// list selects only the base fields.
func (p Projection) Parse(raw string) (Selection, error) {
	sel := Selection{}
	for _, name := range strings.Split(raw, ";") {
		name = strings.TrimSpace(name)
		if name == "" || name == passwordField {
			continue
		}
		if !p.allows(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		sel[name] = struct{}{}
	}
	return sel, nil
}

func (p Projection) allows(name string) bool {
	for _, f := range p {
		if f == name {
			return true
		}
	}
	return false
}
