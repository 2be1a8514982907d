package authz

import (
	"context"
	"fmt"
)

// Strategy names which engine governed a decision.
type Strategy string

const (
	StrategyLegacy Strategy = "legacy"
	StrategyACL    Strategy = "acl"
)

// router is the transition seam between the legacy role evaluator and the
// ACL evaluator. The switch is per resource instance: a workspace with
// ACL entries anywhere in its applicable set is governed by ACL, a
// sibling without any still uses legacy roles.
type router struct {
	*evaluator
}

func newRouter(s Stores) *router {
	return &router{evaluator: newEvaluator(s)}
}

// strategyFor resolves the governing engine for a resource instance once,
// so the presence check is not scattered across call sites.
func (r *router) strategyFor(ctx context.Context, resourceType ResourceType, resourceID *int64) (Strategy, error) {
	enabled, err := r.aclEnabled(ctx, resourceType, resourceID)
	if err != nil {
		return "", err
	}
	if enabled {
		return StrategyACL, nil
	}
	return StrategyLegacy, nil
}

// workspaceAccess decides read access to a workspace. Under ACL the
// decision is the ACL evaluator's alone; legacy role computation is
// skipped entirely.
func (r *router) workspaceAccess(ctx context.Context, userID, workspaceID int64) (bool, Strategy, error) {
	strategy, err := r.strategyFor(ctx, ResourceWorkspace, &workspaceID)
	if err != nil {
		return false, "", err
	}
	if strategy == StrategyACL {
		ok, err := r.hasPermission(ctx, userID, ResourceWorkspace, &workspaceID, PermRead)
		return ok, strategy, err
	}
	role, err := r.evaluator.workspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return false, "", err
	}
	return role != "", strategy, nil
}

// workspaceRole resolves the effective workspace role. When ACL entries
// exist the ACL-derived pseudo-role joins the legacy candidate set and
// the highest rank wins. The blending is intentional migration-continuity
// behavior, kept here so it has exactly one implementation site.
func (r *router) workspaceRole(ctx context.Context, userID, workspaceID int64) (WorkspaceRole, error) {
	legacy, err := r.evaluator.workspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return "", err
	}

	enabled, err := r.aclEnabled(ctx, ResourceWorkspace, &workspaceID)
	if err != nil {
		return "", err
	}
	if !enabled {
		return legacy, nil
	}

	dec, err := r.effectiveACLForUser(ctx, userID, ResourceWorkspace, &workspaceID)
	if err != nil {
		return "", err
	}
	return maxWorkspaceRole(legacy, pseudoWorkspaceRole(dec.Effective)), nil
}

// projectAccess decides read access to a project. Public active projects
// bypass both engines.
func (r *router) projectAccess(ctx context.Context, userID, projectID int64) (bool, Strategy, error) {
	project, err := r.s.Projects().GetProject(ctx, projectID)
	if err != nil {
		return false, "", fmt.Errorf("failed to get project %d: %w", projectID, err)
	}
	if project == nil || !project.IsActive {
		return false, StrategyLegacy, nil
	}
	if project.IsPublic {
		return true, StrategyLegacy, nil
	}

	strategy, err := r.strategyFor(ctx, ResourceProject, &projectID)
	if err != nil {
		return false, "", err
	}
	if strategy == StrategyACL {
		ok, err := r.hasPermission(ctx, userID, ResourceProject, &projectID, PermRead)
		return ok, strategy, err
	}
	role, err := r.evaluator.projectRole(ctx, userID, projectID)
	if err != nil {
		return false, "", err
	}
	return role != "", strategy, nil
}

// projectRole resolves the effective project role with the same ACL
// pseudo-role blending as workspaceRole.
func (r *router) projectRole(ctx context.Context, userID, projectID int64) (ProjectRole, error) {
	legacy, err := r.evaluator.projectRole(ctx, userID, projectID)
	if err != nil {
		return "", err
	}

	enabled, err := r.aclEnabled(ctx, ResourceProject, &projectID)
	if err != nil {
		return "", err
	}
	if !enabled {
		return legacy, nil
	}

	dec, err := r.effectiveACLForUser(ctx, userID, ResourceProject, &projectID)
	if err != nil {
		return "", err
	}
	return maxProjectRole(legacy, pseudoProjectRole(dec.Effective)), nil
}

// taskAccess delegates entirely to the owning project. A task whose
// project cannot be found denies access.
func (r *router) taskAccess(ctx context.Context, userID, taskID int64) (bool, error) {
	task, err := r.s.Tasks().GetTask(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to get task %d: %w", taskID, err)
	}
	if task == nil || !task.IsActive {
		return false, nil
	}
	ok, _, err := r.projectAccess(ctx, userID, task.ProjectID)
	return ok, err
}

// taskRole resolves the project role governing a task, for modify checks.
func (r *router) taskRole(ctx context.Context, userID, taskID int64) (*Task, ProjectRole, error) {
	task, err := r.s.Tasks().GetTask(ctx, taskID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get task %d: %w", taskID, err)
	}
	if task == nil || !task.IsActive {
		return nil, "", nil
	}
	role, err := r.projectRole(ctx, userID, task.ProjectID)
	if err != nil {
		return nil, "", err
	}
	return task, role, nil
}
