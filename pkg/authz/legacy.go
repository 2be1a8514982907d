package authz

import (
	"context"
	"fmt"
)

// workspaceRole computes the user's effective legacy role on a workspace.
// Returns the zero role when the user has no access. The super-admin and
// domain-admin short-circuits run before the isActive check, so platform
// admins resolve a role even on inactive workspaces.
func (e *evaluator) workspaceRole(ctx context.Context, userID, workspaceID int64) (WorkspaceRole, error) {
	super, err := e.isSuperAdmin(ctx, userID)
	if err != nil {
		return "", err
	}
	if super {
		return WorkspaceOwner, nil
	}

	domain, err := e.isDomainAdmin(ctx, userID)
	if err != nil {
		return "", err
	}
	if domain {
		return WorkspaceAdmin, nil
	}

	ws, err := e.s.Workspaces().GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to get workspace %d: %w", workspaceID, err)
	}
	if ws == nil || !ws.IsActive {
		return "", nil
	}

	var candidates []WorkspaceRole

	member, err := e.s.Workspaces().GetWorkspaceMember(ctx, workspaceID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get workspace member: %w", err)
	}
	if member != nil {
		candidates = append(candidates, normalizeWorkspaceRole(member.Role))
	}

	groups, err := e.groupsOf(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if !g.IsActive || g.WorkspaceID == nil || *g.WorkspaceID != workspaceID {
			continue
		}
		switch g.Type {
		case GroupWorkspaceAdmin:
			candidates = append(candidates, WorkspaceAdmin)
		case GroupWorkspace:
			candidates = append(candidates, WorkspaceMember)
		}
	}

	return maxWorkspaceRole(candidates...), nil
}

// normalizeWorkspaceRole translates legacy direct-membership OWNER rows to
// ADMIN at read time. Workspace OWNER survives only as the derived
// super-admin privilege.
func normalizeWorkspaceRole(r WorkspaceRole) WorkspaceRole {
	if r == WorkspaceOwner {
		return WorkspaceAdmin
	}
	return r
}

// projectRole computes the user's effective legacy role on a project.
// Workspace access is a strict prerequisite: a user with no workspace
// role has no project role either.
func (e *evaluator) projectRole(ctx context.Context, userID, projectID int64) (ProjectRole, error) {
	project, err := e.s.Projects().GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to get project %d: %w", projectID, err)
	}
	if project == nil || !project.IsActive {
		return "", nil
	}

	wsRole, err := e.workspaceRole(ctx, userID, project.WorkspaceID)
	if err != nil {
		return "", err
	}
	if wsRole == "" {
		return "", nil
	}

	candidates := []ProjectRole{deriveProjectRole(wsRole)}

	member, err := e.s.Projects().GetProjectMember(ctx, projectID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get project member: %w", err)
	}
	if member != nil {
		candidates = append(candidates, member.Role)
	}

	groups, err := e.groupsOf(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if !g.IsActive || g.ProjectID == nil || *g.ProjectID != projectID {
			continue
		}
		switch g.Type {
		case GroupProjectAdmin:
			candidates = append(candidates, ProjectManager)
		case GroupProject:
			candidates = append(candidates, ProjectMemberR)
		}
	}

	return maxProjectRole(candidates...), nil
}

// deriveProjectRole maps an effective workspace role downward onto the
// project role ladder.
func deriveProjectRole(r WorkspaceRole) ProjectRole {
	switch r {
	case WorkspaceOwner:
		return ProjectOwner
	case WorkspaceAdmin:
		return ProjectManager
	case WorkspaceMember:
		return ProjectMemberR
	case WorkspaceViewer:
		return ProjectViewer
	default:
		return ""
	}
}

// canAccessProjectLegacy is the legacy boolean wrapper. Public active
// projects bypass membership checks entirely for read access.
func (e *evaluator) canAccessProjectLegacy(ctx context.Context, userID, projectID int64) (bool, error) {
	project, err := e.s.Projects().GetProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to get project %d: %w", projectID, err)
	}
	if project == nil || !project.IsActive {
		return false, nil
	}
	if project.IsPublic {
		return true, nil
	}
	role, err := e.projectRole(ctx, userID, projectID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}
