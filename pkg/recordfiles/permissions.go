package recordfiles

import "context"

// Identity is the actor on whose behalf an operation runs.
type Identity struct {
	ID     string
	System bool
}

// SystemIdentity returns the identity of the system process, which may
// perform every action under the default policy.
func SystemIdentity() Identity {
	return Identity{ID: "system", System: true}
}

// AnonymousIdentity returns the identity of an unauthenticated user.
func AnonymousIdentity() Identity {
	return Identity{ID: "anonymous"}
}

type identityKey struct{}

// ContextWithIdentity returns a copy of ctx carrying identity.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored in ctx, or the anonymous
// identity when none is set.
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return AnonymousIdentity()
}

// Action names an operation guarded by the permission policy.
type Action string

// Actions checked by the service.
const (
	ActionRead            Action = "read"
	ActionCreate          Action = "create"
	ActionUpdate          Action = "update"
	ActionDelete          Action = "delete"
	ActionReadFiles       Action = "read_files"
	ActionCreateFiles     Action = "create_files"
	ActionSetContentFiles Action = "set_content_files"
	ActionGetContentFiles Action = "get_content_files"
	ActionCommitFiles     Action = "commit_files"
	ActionUpdateFiles     Action = "update_files"
	ActionDeleteFiles     Action = "delete_files"
)

// PermissionPolicy decides whether an identity may perform an action.
type PermissionPolicy interface {
	Can(identity Identity, action Action) bool
}

// DefaultPermissionPolicy lets anyone read records, files and file content,
// and reserves every write to the system identity.
type DefaultPermissionPolicy struct{}

// Can implements PermissionPolicy.
func (DefaultPermissionPolicy) Can(identity Identity, action Action) bool {
	switch action {
	case ActionRead, ActionReadFiles, ActionGetContentFiles:
		return true
	default:
		return identity.System
	}
}

// AllowAllPolicy permits every action. Useful for embedding the library
// where authorization happens elsewhere.
type AllowAllPolicy struct{}

// Can implements PermissionPolicy.
func (AllowAllPolicy) Can(Identity, Action) bool { return true }
