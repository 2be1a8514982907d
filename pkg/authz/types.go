package authz

import (
	"fmt"
)

// PlatformRole is a user's platform-wide role.
type PlatformRole string

const (
	PlatformUser    PlatformRole = "USER"
	PlatformManager PlatformRole = "MANAGER"
	PlatformAdmin   PlatformRole = "ADMIN"
)

// WorkspaceRole is a role held on a workspace. The zero value means no role.
type WorkspaceRole string

const (
	WorkspaceViewer WorkspaceRole = "VIEWER"
	WorkspaceMember WorkspaceRole = "MEMBER"
	WorkspaceAdmin  WorkspaceRole = "ADMIN"
	WorkspaceOwner  WorkspaceRole = "OWNER"
)

// ProjectRole is a role held on a project. The zero value means no role.
type ProjectRole string

const (
	ProjectViewer  ProjectRole = "VIEWER"
	ProjectMemberR ProjectRole = "MEMBER"
	ProjectManager ProjectRole = "MANAGER"
	ProjectOwner   ProjectRole = "OWNER"
)

// workspaceRoleRank and projectRoleRank are the single source of truth for
// role ordering. Unknown roles rank 0 and therefore never satisfy a minimum.
var workspaceRoleRank = map[WorkspaceRole]int{
	WorkspaceViewer: 1,
	WorkspaceMember: 2,
	WorkspaceAdmin:  3,
	WorkspaceOwner:  4,
}

var projectRoleRank = map[ProjectRole]int{
	ProjectViewer:  1,
	ProjectMemberR: 2,
	ProjectManager: 3,
	ProjectOwner:   4,
}

// Rank returns the ordinal rank of the role, 0 for no/unknown role.
func (r WorkspaceRole) Rank() int { return workspaceRoleRank[r] }

// Rank returns the ordinal rank of the role, 0 for no/unknown role.
func (r ProjectRole) Rank() int { return projectRoleRank[r] }

// HasMinWorkspaceRole reports whether role meets or exceeds min.
func HasMinWorkspaceRole(role, min WorkspaceRole) bool {
	return role.Rank() >= min.Rank() && role.Rank() > 0
}

// HasMinProjectRole reports whether role meets or exceeds min.
func HasMinProjectRole(role, min ProjectRole) bool {
	return role.Rank() >= min.Rank() && role.Rank() > 0
}

// maxWorkspaceRole folds candidates down to the highest-ranked role.
// Ties keep the current winner; ranks are totally ordered so the result
// is independent of candidate order.
func maxWorkspaceRole(candidates ...WorkspaceRole) WorkspaceRole {
	var highest WorkspaceRole
	for _, c := range candidates {
		if c.Rank() > highest.Rank() {
			highest = c
		}
	}
	return highest
}

func maxProjectRole(candidates ...ProjectRole) ProjectRole {
	var highest ProjectRole
	for _, c := range candidates {
		if c.Rank() > highest.Rank() {
			highest = c
		}
	}
	return highest
}

// Permission is a bitmask of fine-grained access rights, NTFS style.
type Permission uint8

const (
	PermRead        Permission = 1 << 0
	PermWrite       Permission = 1 << 1
	PermExecute     Permission = 1 << 2
	PermDelete      Permission = 1 << 3
	PermPermissions Permission = 1 << 4

	// PermFullControl is every defined bit.
	PermFullControl = PermRead | PermWrite | PermExecute | PermDelete | PermPermissions
)

// Has reports whether p contains any of the bits in required.
func (p Permission) Has(required Permission) bool {
	return p&required != 0
}

// Preset returns the display name for well-known permission combinations.
// Presets are presentation only; they never influence evaluation.
func (p Permission) Preset() string {
	switch p {
	case 0:
		return "None"
	case PermRead:
		return "Read Only"
	case PermRead | PermWrite | PermExecute:
		return "Contributor"
	case PermRead | PermWrite | PermExecute | PermDelete:
		return "Editor"
	case PermFullControl:
		return "Full Control"
	default:
		return fmt.Sprintf("Custom(%d)", uint8(p))
	}
}

// GroupType classifies a group.
type GroupType string

const (
	GroupWorkspace      GroupType = "WORKSPACE"
	GroupWorkspaceAdmin GroupType = "WORKSPACE_ADMIN"
	GroupProject        GroupType = "PROJECT"
	GroupProjectAdmin   GroupType = "PROJECT_ADMIN"
	GroupSystem         GroupType = "SYSTEM"
)

// DomainAdminsGroupName is the distinguished SYSTEM group whose active
// members receive ADMIN-equivalent access to every workspace.
const DomainAdminsGroupName = "Domain Admins"

// ResourceType identifies the kind of resource an access check targets.
type ResourceType string

const (
	ResourceWorkspace ResourceType = "workspace"
	ResourceProject   ResourceType = "project"
	ResourceTask      ResourceType = "task"
	ResourceAdmin     ResourceType = "admin"
	ResourceSystem    ResourceType = "system"
)

// PrincipalType identifies the subject kind of an ACL entry.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// Principal is the subject of a permission check: a user or a group.
type Principal struct {
	Type PrincipalType `json:"type"`
	ID   int64         `json:"id"`
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%d", p.Type, p.ID)
}

// ResourceRef identifies a resource instance. A nil ID denotes the
// type-wide default scope.
type ResourceRef struct {
	Type ResourceType `json:"type"`
	ID   *int64       `json:"id,omitempty"`
}

func (r ResourceRef) String() string {
	if r.ID == nil {
		return string(r.Type) + ":*"
	}
	return fmt.Sprintf("%s:%d", r.Type, *r.ID)
}

// User is the identity record the resolver consumes.
type User struct {
	ID           int64        `json:"id"`
	PlatformRole PlatformRole `json:"platform_role"`
	IsActive     bool         `json:"is_active"`
}

// Group is a principal container, optionally scoped to a workspace or
// project. WORKSPACE/WORKSPACE_ADMIN groups are auto-provisioned one per
// workspace; PROJECT/PROJECT_ADMIN likewise per project.
type Group struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Type            GroupType `json:"type"`
	WorkspaceID     *int64    `json:"workspace_id,omitempty"`
	ProjectID       *int64    `json:"project_id,omitempty"`
	IsActive        bool      `json:"is_active"`
	IsSecurityGroup bool      `json:"is_security_group"`
}

// Workspace is the top-level tenancy container.
type Workspace struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// WorkspaceMembership is a direct (workspace, user, role) membership row.
type WorkspaceMembership struct {
	WorkspaceID int64         `json:"workspace_id"`
	UserID      int64         `json:"user_id"`
	Role        WorkspaceRole `json:"role"`
}

// Project belongs to exactly one workspace. Public projects bypass
// membership checks for read access.
type Project struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Name        string `json:"name"`
	IsActive    bool   `json:"is_active"`
	IsPublic    bool   `json:"is_public"`
}

// ProjectMember is a direct (project, user, role) membership row.
type ProjectMember struct {
	ProjectID int64       `json:"project_id"`
	UserID    int64       `json:"user_id"`
	Role      ProjectRole `json:"role"`
}

// Task derives all access from its owning project; it has no ACL or
// membership rows of its own.
type Task struct {
	ID        int64 `json:"id"`
	ProjectID int64 `json:"project_id"`
	IsActive  bool  `json:"is_active"`
}

// ACLEntry grants or denies permission bits to a principal on a resource.
// A nil ResourceID makes the entry a type-wide default. Deny entries are
// evaluated before allow entries.
type ACLEntry struct {
	ID            int64         `json:"id"`
	ResourceType  ResourceType  `json:"resource_type"`
	ResourceID    *int64        `json:"resource_id,omitempty"`
	PrincipalType PrincipalType `json:"principal_type"`
	PrincipalID   int64         `json:"principal_id"`
	Permissions   Permission    `json:"permissions"`
	Deny          bool          `json:"deny"`
}

// WorkspaceAccess is the resolved record returned by RequireWorkspaceAccess.
type WorkspaceAccess struct {
	WorkspaceID int64         `json:"workspace_id"`
	UserID      int64         `json:"user_id"`
	Role        WorkspaceRole `json:"role"`
}

// ProjectAccess is the resolved record returned by RequireProjectAccess.
type ProjectAccess struct {
	ProjectID     int64         `json:"project_id"`
	WorkspaceID   int64         `json:"workspace_id"`
	UserID        int64         `json:"user_id"`
	Role          ProjectRole   `json:"role"`
	WorkspaceRole WorkspaceRole `json:"workspace_role"`
}

// TaskAccess is the resolved record returned by RequireTaskAccess.
type TaskAccess struct {
	TaskID    int64       `json:"task_id"`
	ProjectID int64       `json:"project_id"`
	UserID    int64       `json:"user_id"`
	Role      ProjectRole `json:"role"`
}
