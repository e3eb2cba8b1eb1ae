package auth

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"studioflow/production-portal/production-portal-backend/pkg/apperr"
)

// Role is the effective role an actor acts under.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleClient Role = "client"
)

// Capability is a single permission checked by the services.
type Capability string

const (
	CapProjectCreate          Capability = "project.create"
	CapProjectAccept          Capability = "project.accept"
	CapProjectReject          Capability = "project.reject"
	CapProjectClose           Capability = "project.close"
	CapProjectApproveAdmin    Capability = "project.approve_admin"
	CapProjectApproveClient   Capability = "project.approve_client"
	CapWorkItemAssign         Capability = "workitem.assign"
	CapWorkItemEditTerms      Capability = "workitem.edit_terms"
	CapWorkItemWork           Capability = "workitem.work"
	CapWorkItemRequestChanges Capability = "workitem.request_correction"
	CapWorkItemApproveAdmin   Capability = "workitem.approve_admin"
	CapWorkItemApproveClient  Capability = "workitem.approve_client"
	CapPaymentMarkPaid        Capability = "payment.mark_paid"
	CapPaymentMarkReceived    Capability = "payment.mark_received"
	CapPaymentAdjust          Capability = "payment.adjust"
	CapPaymentViewAll         Capability = "payment.view_all"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin: {
		CapProjectAccept, CapProjectReject, CapProjectClose, CapProjectApproveAdmin,
		CapWorkItemAssign, CapWorkItemEditTerms, CapWorkItemRequestChanges, CapWorkItemApproveAdmin,
		CapPaymentMarkPaid, CapPaymentMarkReceived, CapPaymentAdjust, CapPaymentViewAll,
	},
	RoleEditor: {
		CapWorkItemWork, CapPaymentMarkReceived,
	},
	RoleClient: {
		CapProjectCreate, CapProjectApproveClient,
		CapWorkItemRequestChanges, CapWorkItemApproveClient,
		CapPaymentMarkPaid,
	},
}

// membership roles from multi-tenant mode collapse onto the legacy roles
var roleAliases = map[string]Role{
	"admin":      RoleAdmin,
	"owner":      RoleAdmin,
	"manager":    RoleAdmin,
	"producer":   RoleAdmin,
	"editor":     RoleEditor,
	"member":     RoleEditor,
	"freelancer": RoleEditor,
	"client":     RoleClient,
	"customer":   RoleClient,
}

// EffectiveRole resolves a raw role string to one of the three effective roles.
func EffectiveRole(raw string) (Role, bool) {
	role, ok := roleAliases[strings.ToLower(strings.TrimSpace(raw))]
	return role, ok
}

// CapabilitySet is resolved once per request and passed through.
type CapabilitySet map[Capability]struct{}

func CapabilitiesFor(role Role) CapabilitySet {
	set := make(CapabilitySet, len(roleCapabilities[role]))
	for _, c := range roleCapabilities[role] {
		set[c] = struct{}{}
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities sorted, for responses and logs.
func (s CapabilitySet) List() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// Actor is the resolved caller of a mutating operation.
type Actor struct {
	UserID       uuid.UUID
	Role         Role
	Capabilities CapabilitySet
}

// NewActor resolves the capability set for a raw role string.
func NewActor(userID uuid.UUID, rawRole string) (Actor, error) {
	if userID == uuid.Nil {
		return Actor{}, apperr.Unauthorized("auth.NewActor", "missing user id")
	}
	role, ok := EffectiveRole(rawRole)
	if !ok {
		return Actor{}, apperr.Unauthorized("auth.NewActor", "unknown role %q", rawRole)
	}
	return Actor{UserID: userID, Role: role, Capabilities: CapabilitiesFor(role)}, nil
}

func (a Actor) Can(c Capability) bool {
	return a.Capabilities.Has(c)
}

// Require returns an authorization error when the capability is missing.
func (a Actor) Require(op string, c Capability) error {
	if !a.Can(c) {
		return apperr.Unauthorized(op, "role %s lacks %s", a.Role, c)
	}
	return nil
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type actorKey struct{}

// WithActor stores the actor on a context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by the middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
