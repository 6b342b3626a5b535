package auth

import (
	"context"
	"fmt"

	apperrors "licensegate/internal/errors"
	"licensegate/pkg/contracts/domain"
)

// AllTenants is the tenant claim of an operator scoped to every customer
const AllTenants = "*"

// RoleAuthorizer admits authenticated operators holding the admin role whose
// tenant scope covers the target customer.
type RoleAuthorizer struct {
	AdminRole string
}

// NewRoleAuthorizer creates an authorizer for adminRole
func NewRoleAuthorizer(adminRole string) *RoleAuthorizer {
	return &RoleAuthorizer{AdminRole: adminRole}
}

// Authorize implements license.Authorizer
func (a *RoleAuthorizer) Authorize(_ context.Context, actor domain.Actor, customerID string) error {
	if !actor.Authenticated() {
		return apperrors.ErrUnauthenticated
	}
	if actor.Role != a.AdminRole {
		return fmt.Errorf("%w: role %q is not %q", apperrors.ErrPermissionDenied, actor.Role, a.AdminRole)
	}
	if actor.Tenant != AllTenants && actor.Tenant != customerID {
		return fmt.Errorf("%w: tenant scope %q does not cover %q", apperrors.ErrPermissionDenied, actor.Tenant, customerID)
	}
	return nil
}

type actorKey struct{}

// WithActor attaches actor to ctx
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached to ctx, or an anonymous one
func ActorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := ctx.Value(actorKey{}).(domain.Actor); ok {
		return actor
	}
	return domain.Actor{Kind: domain.ActorAnonymous}
}
