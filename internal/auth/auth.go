// Package auth validates static API keys for the HTTP surface.
package auth

import (
	"context"
	"fmt"
	"strings"
)

// Identity names the caller behind an API key. Role is "admin" or
// "reader".
type Identity struct {
	Name string
	Role string
}

func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys parsed from configuration. The spec
// format is a comma-separated list of key:name:role entries.
type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:name:role", entry)
		}
		key := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		role := strings.TrimSpace(parts[2])
		if key == "" || name == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key or name", entry)
		}
		if role != "admin" && role != "reader" {
			return nil, fmt.Errorf("invalid static key entry %q: role must be admin or reader", entry)
		}
		validator.keys[key] = Identity{Name: name, Role: role}
	}
	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
