package authz

import (
	"context"
	"fmt"
)

// aclDecision is the merged result of every ACL entry applicable to one
// (principal, resource) pair.
type aclDecision struct {
	Effective Permission
	Allow     Permission
	Deny      Permission

	// Direct is true when at least one matching entry targets the
	// resource itself rather than an ancestor or the type-wide default.
	Direct bool

	// InheritedFrom names the nearest ancestor (or type-wide scope) that
	// contributed bits, nil when everything came from the resource itself.
	InheritedFrom *ResourceRef
}

// parentOf returns the containing resource in the hierarchy, or nil at
// the top. The walk is a parent-chain loop so deeper nestings slot in
// without touching the evaluator.
func (e *evaluator) parentOf(ctx context.Context, resourceType ResourceType, resourceID int64) (*ResourceRef, error) {
	switch resourceType {
	case ResourceProject:
		project, err := e.s.Projects().GetProject(ctx, resourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to get project %d: %w", resourceID, err)
		}
		if project == nil {
			return nil, nil
		}
		id := project.WorkspaceID
		return &ResourceRef{Type: ResourceWorkspace, ID: &id}, nil
	case ResourceTask:
		task, err := e.s.Tasks().GetTask(ctx, resourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to get task %d: %w", resourceID, err)
		}
		if task == nil {
			return nil, nil
		}
		id := task.ProjectID
		return &ResourceRef{Type: ResourceProject, ID: &id}, nil
	default:
		return nil, nil
	}
}

// aclLevels returns the ordered scopes whose entries apply to the target:
// the resource itself, then each ancestor, then the type-wide default for
// the target's type. A nil resourceID targets the type-wide scope alone.
func (e *evaluator) aclLevels(ctx context.Context, resourceType ResourceType, resourceID *int64) ([]ResourceRef, error) {
	if resourceID == nil {
		return []ResourceRef{{Type: resourceType}}, nil
	}

	levels := []ResourceRef{{Type: resourceType, ID: resourceID}}
	current := ResourceRef{Type: resourceType, ID: resourceID}
	for current.ID != nil {
		parent, err := e.parentOf(ctx, current.Type, *current.ID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		levels = append(levels, *parent)
		current = *parent
	}
	levels = append(levels, ResourceRef{Type: resourceType})
	return levels, nil
}

// levelEntries pairs one applicable scope with the entries found there,
// ordered most specific first.
type levelEntries struct {
	Ref     ResourceRef
	Entries []ACLEntry
}

// combineACL is the single implementation of the mask algebra: allow bits
// accumulate additively across levels, deny bits are OR-ed from any
// level, and the effective mask is allow &^ deny. Deny wins over allow
// for the same bit regardless of specificity. Both the evaluator and the
// matrix builder go through this function.
func combineACL(levels []levelEntries, principals PrincipalFilter) aclDecision {
	var dec aclDecision
	for i, level := range levels {
		for _, entry := range level.Entries {
			if !principals.Matches(entry) {
				continue
			}
			if entry.Deny {
				dec.Deny |= entry.Permissions
			} else {
				dec.Allow |= entry.Permissions
			}
			if i == 0 {
				dec.Direct = true
			} else if dec.InheritedFrom == nil {
				ref := level.Ref
				dec.InheritedFrom = &ref
			}
		}
	}
	dec.Effective = dec.Allow &^ dec.Deny
	return dec
}

// loadACLLevels fetches the applicable entries per scope, restricted to
// the given principals at the store when possible.
func (e *evaluator) loadACLLevels(ctx context.Context, principals PrincipalFilter, resourceType ResourceType, resourceID *int64) ([]levelEntries, error) {
	levels, err := e.aclLevels(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	loaded := make([]levelEntries, 0, len(levels))
	for _, level := range levels {
		entries, err := e.s.ACL().FindEntries(ctx, level.Type, level.ID, principals)
		if err != nil {
			return nil, fmt.Errorf("failed to find acl entries for %s: %w", level, err)
		}
		loaded = append(loaded, levelEntries{Ref: level, Entries: entries})
	}
	return loaded, nil
}

// effectiveACL evaluates all applicable entries for the principal filter.
func (e *evaluator) effectiveACL(ctx context.Context, principals PrincipalFilter, resourceType ResourceType, resourceID *int64) (aclDecision, error) {
	loaded, err := e.loadACLLevels(ctx, principals, resourceType, resourceID)
	if err != nil {
		return aclDecision{}, err
	}
	return combineACL(loaded, principals), nil
}

// effectiveACLForUser evaluates entries matching the user directly or any
// of the user's groups.
func (e *evaluator) effectiveACLForUser(ctx context.Context, userID int64, resourceType ResourceType, resourceID *int64) (aclDecision, error) {
	groupIDs, err := e.groupIDsOf(ctx, userID)
	if err != nil {
		return aclDecision{}, err
	}
	return e.effectiveACL(ctx, PrincipalFilter{UserID: &userID, GroupIDs: groupIDs}, resourceType, resourceID)
}

// hasPermission reports whether the user's effective mask contains the
// required bit.
func (e *evaluator) hasPermission(ctx context.Context, userID int64, resourceType ResourceType, resourceID *int64, required Permission) (bool, error) {
	dec, err := e.effectiveACLForUser(ctx, userID, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	return dec.Effective.Has(required), nil
}

// aclEnabled reports whether any ACL entry exists for the resource, any
// of its ancestors, or the type-wide default. When true, ACL governs the
// access decision for this resource instance.
func (e *evaluator) aclEnabled(ctx context.Context, resourceType ResourceType, resourceID *int64) (bool, error) {
	levels, err := e.aclLevels(ctx, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	for _, level := range levels {
		any, err := e.s.ACL().AnyEntries(ctx, level.Type, level.ID)
		if err != nil {
			return false, fmt.Errorf("failed to probe acl entries for %s: %w", level, err)
		}
		if any {
			return true, nil
		}
	}
	return false, nil
}

// pseudoWorkspaceRole maps an effective ACL mask onto the workspace role
// ladder for migration-continuity blending: READ grants VIEWER, WRITE
// MEMBER, PERMISSIONS ADMIN.
func pseudoWorkspaceRole(mask Permission) WorkspaceRole {
	switch {
	case mask.Has(PermPermissions):
		return WorkspaceAdmin
	case mask.Has(PermWrite):
		return WorkspaceMember
	case mask.Has(PermRead):
		return WorkspaceViewer
	default:
		return ""
	}
}

// pseudoProjectRole is the project-ladder counterpart of
// pseudoWorkspaceRole; PERMISSIONS maps to MANAGER, the highest rank a
// non-owner can hold on a project.
func pseudoProjectRole(mask Permission) ProjectRole {
	switch {
	case mask.Has(PermPermissions):
		return ProjectManager
	case mask.Has(PermWrite):
		return ProjectMemberR
	case mask.Has(PermRead):
		return ProjectViewer
	default:
		return ""
	}
}
