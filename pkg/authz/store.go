package authz

import (
	"context"
)

// UserStore provides read access to identity records.
type UserStore interface {
	// GetUser returns nil, nil when the user does not exist. Absence of
	// identity must deny, never crash a permission check.
	GetUser(ctx context.Context, id int64) (*User, error)

	// ListUsers returns all active users, used by the matrix builder.
	ListUsers(ctx context.Context) ([]User, error)
}

// GroupStore provides read access to groups and memberships.
type GroupStore interface {
	GetUserGroups(ctx context.Context, userID int64) ([]Group, error)
	GetGroupMembers(ctx context.Context, groupID int64) ([]int64, error)

	// FindSystemGroup locates a SYSTEM group by name (the domain-admins
	// group). Returns nil, nil when absent.
	FindSystemGroup(ctx context.Context, name string) (*Group, error)

	// ListGroups returns all active groups, used by the matrix builder.
	ListGroups(ctx context.Context) ([]Group, error)
}

// WorkspaceStore provides read access to workspaces and direct memberships.
type WorkspaceStore interface {
	// GetWorkspace returns nil, nil when the workspace does not exist.
	GetWorkspace(ctx context.Context, id int64) (*Workspace, error)

	// GetWorkspaceMember returns nil, nil when the user has no direct
	// membership row. Legacy OWNER rows are returned as stored; the
	// evaluator maps them to ADMIN at read time.
	GetWorkspaceMember(ctx context.Context, workspaceID, userID int64) (*WorkspaceMembership, error)

	ListWorkspaces(ctx context.Context) ([]Workspace, error)
}

// ProjectStore provides read access to projects and direct memberships.
type ProjectStore interface {
	// GetProject returns nil, nil when the project does not exist.
	GetProject(ctx context.Context, id int64) (*Project, error)

	// GetProjectMember returns nil, nil when the user has no direct
	// membership row.
	GetProjectMember(ctx context.Context, projectID, userID int64) (*ProjectMember, error)

	// ListProjects returns all active projects, optionally scoped to a
	// workspace.
	ListProjects(ctx context.Context, workspaceID *int64) ([]Project, error)
}

// TaskStore provides read access to tasks.
type TaskStore interface {
	// GetTask returns nil, nil when the task does not exist.
	GetTask(ctx context.Context, id int64) (*Task, error)
}

// PrincipalFilter restricts an ACL query to entries targeting the given
// user or any of the given groups. The zero value matches all principals
// (used by the matrix builder).
type PrincipalFilter struct {
	UserID   *int64
	GroupIDs []int64
}

// Matches reports whether an entry's principal is covered by the filter.
func (f PrincipalFilter) Matches(e ACLEntry) bool {
	if f.UserID == nil && len(f.GroupIDs) == 0 {
		return true
	}
	switch e.PrincipalType {
	case PrincipalUser:
		return f.UserID != nil && e.PrincipalID == *f.UserID
	case PrincipalGroup:
		for _, g := range f.GroupIDs {
			if g == e.PrincipalID {
				return true
			}
		}
	}
	return false
}

// ACLStore provides read access to ACL entries.
type ACLStore interface {
	// FindEntries returns entries for exactly (resourceType, resourceID).
	// A nil resourceID selects the type-wide default entries.
	FindEntries(ctx context.Context, resourceType ResourceType, resourceID *int64, principals PrincipalFilter) ([]ACLEntry, error)

	// AnyEntries reports whether any entry exists for exactly
	// (resourceType, resourceID), regardless of principal.
	AnyEntries(ctx context.Context, resourceType ResourceType, resourceID *int64) (bool, error)
}

// Stores bundles the collaborator stores an evaluation reads from. All
// reads through one Stores value observe a single consistent snapshot.
type Stores interface {
	Users() UserStore
	Groups() GroupStore
	Workspaces() WorkspaceStore
	Projects() ProjectStore
	Tasks() TaskStore
	ACL() ACLStore
}

// DB hands out consistent snapshots. Each access decision runs inside a
// single View call so that its dependent lookups (user, workspace,
// membership, group, ACL) cannot observe a half-applied revocation.
type DB interface {
	View(ctx context.Context, fn func(Stores) error) error
}
