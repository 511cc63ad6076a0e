package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "PATIENT"
	RoleDoctor   Role = "DOCTOR"
	RolePharmacy Role = "PHARMACY"
	RoleLabStaff Role = "LAB_STAFF"
	RoleAdmin    Role = "ADMIN"
)

var knownRoles = map[Role]bool{
	RolePatient:  true,
	RoleDoctor:   true,
	RolePharmacy: true,
	RoleLabStaff: true,
	RoleAdmin:    true,
}

// ParseRole accepts "DOCTOR", "doctor" or "ROLE_DOCTOR".
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ROLE_"))
	return r, knownRoles[r]
}

// Identity is the authenticated caller, resolved once per request from the
// session token and passed explicitly into service calls.
type Identity struct {
	AccountID uuid.UUID
	Email     string
	Name      string
	Roles     []Role
}

func (i Identity) HasRole(roles ...Role) bool {
	for _, want := range roles {
		for _, has := range i.Roles {
			if has == want {
				return true
			}
		}
	}
	return false
}

// PrimaryRole is the first stored role.
func (i Identity) PrimaryRole() Role {
	if len(i.Roles) == 0 {
		return ""
	}
	return i.Roles[0]
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return id.AccountID.String()
}

func RolesFromContext(ctx context.Context) []string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	roles := make([]string, len(id.Roles))
	for i, r := range id.Roles {
		roles[i] = string(r)
	}
	return roles
}
