package authz

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEffectiveACLDirectGrant(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermRead|PermWrite, false)

	ev := newEvaluator(db)
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceWorkspace, ptr(10))
	require.NoError(t, err)
	require.Equal(t, PermRead|PermWrite, dec.Effective)
	require.True(t, dec.Direct)
	require.Nil(t, dec.InheritedFrom)
}

func TestEffectiveACLDenyBeatsAllow(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermFullControl, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermDelete|PermPermissions, true)

	ev := newEvaluator(db)
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceWorkspace, ptr(10))
	require.NoError(t, err)
	require.Equal(t, PermRead|PermWrite|PermExecute, dec.Effective)
	require.Equal(t, PermDelete|PermPermissions, dec.Deny)
}

func TestEffectiveACLGroupDenyBeatsUserAllow(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addGroup(Group{ID: 100, Type: GroupWorkspace, WorkspaceID: ptr(10), IsActive: true}, 1)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermWrite, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalGroup, 100, PermWrite, true)

	ev := newEvaluator(db)
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceWorkspace, ptr(10))
	require.NoError(t, err)
	require.False(t, dec.Effective.Has(PermWrite),
		"a deny through group membership must override a direct user allow")
}

func TestEffectiveACLInheritanceFromWorkspace(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addProject(20, 10, true, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermRead, false)

	ev := newEvaluator(db)
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceProject, ptr(20))
	require.NoError(t, err)
	require.Equal(t, PermRead, dec.Effective)
	require.False(t, dec.Direct)
	require.NotNil(t, dec.InheritedFrom)
	require.Equal(t, ResourceWorkspace, dec.InheritedFrom.Type)
}

func TestEffectiveACLAllowBitsAccumulateAcrossLevels(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addProject(20, 10, true, false)
	db.addACL(ResourceProject, ptr(20), PrincipalUser, 1, PermWrite, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermRead, false)
	db.addACL(ResourceProject, nil, PrincipalUser, 1, PermExecute, false)

	ev := newEvaluator(db)
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceProject, ptr(20))
	require.NoError(t, err)
	require.Equal(t, PermRead|PermWrite|PermExecute, dec.Effective,
		"allow bits from the resource, its ancestor, and the type-wide default all accumulate")
	require.True(t, dec.Direct)
}

func TestEffectiveACLAncestorDenyBeatsDirectAllow(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addProject(20, 10, true, false)
	db.addACL(ResourceProject, ptr(20), PrincipalUser, 1, PermWrite, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermWrite, true)

	ev := newEvaluator(db)
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceProject, ptr(20))
	require.NoError(t, err)
	require.False(t, dec.Effective.Has(PermWrite),
		"deny wins regardless of which level either entry sits at")
}

func TestEffectiveACLTypeWideScope(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addACL(ResourceAdmin, nil, PrincipalUser, 1, PermRead|PermExecute, false)

	ev := newEvaluator(db)

	// A nil resource ID targets the type-wide scope alone.
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceAdmin, nil)
	require.NoError(t, err)
	require.Equal(t, PermRead|PermExecute, dec.Effective)
	require.True(t, dec.Direct)
}

func TestTaskACLWalksProjectAndWorkspace(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addProject(20, 10, true, false)
	db.addTask(30, 20, true)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermRead, false)

	ev := newEvaluator(db)
	dec, err := ev.effectiveACLForUser(context.Background(), 1, ResourceTask, ptr(30))
	require.NoError(t, err)
	require.Equal(t, PermRead, dec.Effective)
}

func TestHasPermission(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermRead, false)

	ev := newEvaluator(db)

	ok, err := ev.hasPermission(context.Background(), 1, ResourceWorkspace, ptr(10), PermRead)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ev.hasPermission(context.Background(), 1, ResourceWorkspace, ptr(10), PermDelete)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestACLEnabled(t *testing.T) {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addWorkspace(10, true)
	db.addWorkspace(11, true)
	db.addProject(20, 10, true, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 99, PermRead, false)

	ev := newEvaluator(db)

	// Direct entry, even for someone else's principal, enables ACL.
	enabled, err := ev.aclEnabled(context.Background(), ResourceWorkspace, ptr(10))
	require.NoError(t, err)
	require.True(t, enabled)

	// Ancestor entries enable ACL for contained projects.
	enabled, err = ev.aclEnabled(context.Background(), ResourceProject, ptr(20))
	require.NoError(t, err)
	require.True(t, enabled)

	// A sibling workspace with no applicable entries stays legacy.
	enabled, err = ev.aclEnabled(context.Background(), ResourceWorkspace, ptr(11))
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestPseudoRoles(t *testing.T) {
	require.Equal(t, WorkspaceRole(""), pseudoWorkspaceRole(0))
	require.Equal(t, WorkspaceViewer, pseudoWorkspaceRole(PermRead))
	require.Equal(t, WorkspaceMember, pseudoWorkspaceRole(PermRead|PermWrite))
	require.Equal(t, WorkspaceAdmin, pseudoWorkspaceRole(PermFullControl))

	require.Equal(t, ProjectViewer, pseudoProjectRole(PermRead))
	require.Equal(t, ProjectMemberR, pseudoProjectRole(PermWrite))
	require.Equal(t, ProjectManager, pseudoProjectRole(PermPermissions))
}

func TestCombineACLOrderIndependence(t *testing.T) {
	// The effective mask must not depend on entry order within a level.
	entries := []ACLEntry{
		{PrincipalType: PrincipalUser, PrincipalID: 1, Permissions: PermRead, Deny: false},
		{PrincipalType: PrincipalUser, PrincipalID: 1, Permissions: PermWrite, Deny: true},
		{PrincipalType: PrincipalUser, PrincipalID: 1, Permissions: PermWrite | PermExecute, Deny: false},
		{PrincipalType: PrincipalUser, PrincipalID: 1, Permissions: PermDelete, Deny: false},
	}
	filter := PrincipalFilter{UserID: ptr(1)}
	want := combineACL([]levelEntries{{Entries: entries}}, filter).Effective

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]ACLEntry, len(entries))
		copy(shuffled, entries)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := combineACL([]levelEntries{{Entries: shuffled}}, filter).Effective
		require.Equal(t, want, got)
	}
}
