// Package auth provides token issuance/validation and principal resolution
// for the stocklane services.
package auth

// Authority names a role or permission evaluated by authorization checks.
type Authority string

const (
	// RoleUser is granted to every registered customer account
	RoleUser Authority = "ROLE_USER"
	// RoleAdmin grants full access to user and order administration
	RoleAdmin Authority = "ROLE_ADMIN"
	// RoleInventory grants write access to inventory items and stock
	RoleInventory Authority = "ROLE_INVENTORY"
	// RoleService marks service-to-service callers
	RoleService Authority = "ROLE_SERVICE"
)

// Principal is the authenticated identity plus its granted authorities for
// the current request. It is constructed per request and never shared or
// persisted beyond request scope.
type Principal struct {
	Username    string      `json:"username"`
	Authorities []Authority `json:"authorities"`
}

// HasAuthority reports whether the principal holds the given authority
func (p *Principal) HasAuthority(authority Authority) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// AuthorityStrings converts authorities to plain strings for claims encoding
func AuthorityStrings(authorities []Authority) []string {
	out := make([]string, len(authorities))
	for i, a := range authorities {
		out[i] = string(a)
	}
	return out
}

// AuthoritiesFromStrings converts plain strings back to typed authorities
func AuthoritiesFromStrings(values []string) []Authority {
	out := make([]Authority, len(values))
	for i, v := range values {
		out[i] = Authority(v)
	}
	return out
}
