package authz

import (
	"context"
	"fmt"
)

// evaluator runs the resolution algorithms against one Stores snapshot.
// It is created per decision by the Service and never outlives the
// snapshot it was handed.
type evaluator struct {
	s Stores
}

func newEvaluator(s Stores) *evaluator {
	return &evaluator{s: s}
}

// isSuperAdmin reports whether the user's platform role is ADMIN. A
// missing or inactive user is never a super-admin.
func (e *evaluator) isSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	user, err := e.s.Users().GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	if user == nil || !user.IsActive {
		return false, nil
	}
	return user.PlatformRole == PlatformAdmin, nil
}

// isDomainAdmin reports whether the user is a member of the distinguished
// "Domain Admins" SYSTEM group. A missing group means no domain admins
// exist, not an error.
func (e *evaluator) isDomainAdmin(ctx context.Context, userID int64) (bool, error) {
	group, err := e.s.Groups().FindSystemGroup(ctx, DomainAdminsGroupName)
	if err != nil {
		return false, fmt.Errorf("failed to find domain admins group: %w", err)
	}
	if group == nil || !group.IsActive {
		return false, nil
	}
	members, err := e.s.Groups().GetGroupMembers(ctx, group.ID)
	if err != nil {
		return false, fmt.Errorf("failed to get domain admin members: %w", err)
	}
	for _, m := range members {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

// groupsOf returns every group the user belongs to, active or not.
// Callers filter on activity and type.
func (e *evaluator) groupsOf(ctx context.Context, userID int64) ([]Group, error) {
	groups, err := e.s.Groups().GetUserGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get groups for user %d: %w", userID, err)
	}
	return groups, nil
}

// groupIDsOf returns the ids of the user's groups, for ACL principal
// matching.
func (e *evaluator) groupIDsOf(ctx context.Context, userID int64) ([]int64, error) {
	groups, err := e.groupsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}
