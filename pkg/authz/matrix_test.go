package authz

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func matrixFixture() *memDB {
	db := newMemDB()
	db.addUser(1, PlatformUser, true)
	db.addUser(2, PlatformUser, true)
	db.addGroup(Group{ID: 100, Name: "eng", Type: GroupWorkspace, WorkspaceID: ptr(10), IsActive: true}, 2)
	db.addWorkspace(10, true)
	db.addWorkspace(11, true)
	db.addWorkspaceMember(10, 1, WorkspaceAdmin)
	db.addWorkspaceMember(11, 1, WorkspaceViewer)
	db.addProject(20, 10, true, false)
	return db
}

func findCell(t *testing.T, m *Matrix, p Principal, r ResourceRef) MatrixCell {
	t.Helper()
	for _, cell := range m.Cells {
		if cell.Principal == p && cell.Resource.Type == r.Type && sameID(cell.Resource.ID, r.ID) {
			return cell
		}
	}
	t.Fatalf("no cell for %s on %s", p, r)
	return MatrixCell{}
}

func TestBuildMatrixLegacyCells(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)

	m, err := svc.BuildMatrix(context.Background(), MatrixFilter{})
	require.NoError(t, err)

	// 3 principals (2 users + 1 group) x 3 resources (2 workspaces + 1 project).
	require.Equal(t, 9, m.Total)
	require.Len(t, m.Cells, 9)
	require.False(t, m.GeneratedAt.IsZero())

	admin := findCell(t, m, Principal{Type: PrincipalUser, ID: 1}, ResourceRef{Type: ResourceWorkspace, ID: ptr(10)})
	require.Equal(t, StrategyLegacy, admin.Source)
	require.Equal(t, PermRead|PermWrite|PermExecute|PermPermissions, admin.Effective)
	require.True(t, admin.IsDirect)

	viewer := findCell(t, m, Principal{Type: PrincipalUser, ID: 1}, ResourceRef{Type: ResourceWorkspace, ID: ptr(11)})
	require.Equal(t, PermRead, viewer.Effective)
	require.Equal(t, "Read Only", viewer.Preset)

	// User 2 reaches workspace 10 only through the eng group.
	member := findCell(t, m, Principal{Type: PrincipalUser, ID: 2}, ResourceRef{Type: ResourceWorkspace, ID: ptr(10)})
	require.Equal(t, PermRead|PermWrite|PermExecute, member.Effective)

	outsider := findCell(t, m, Principal{Type: PrincipalUser, ID: 2}, ResourceRef{Type: ResourceWorkspace, ID: ptr(11)})
	require.Equal(t, Permission(0), outsider.Effective)
	require.Equal(t, "None", outsider.Preset)
	require.False(t, outsider.IsDirect)
}

func TestBuildMatrixACLCells(t *testing.T) {
	db := matrixFixture()
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermRead, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalGroup, 100, PermRead|PermWrite, false)
	db.addACL(ResourceWorkspace, ptr(10), PrincipalGroup, 100, PermWrite, true)
	svc := testService(db)

	m, err := svc.BuildMatrix(context.Background(), MatrixFilter{
		ResourceTypes: []ResourceType{ResourceWorkspace},
	})
	require.NoError(t, err)

	direct := findCell(t, m, Principal{Type: PrincipalUser, ID: 1}, ResourceRef{Type: ResourceWorkspace, ID: ptr(10)})
	require.Equal(t, StrategyACL, direct.Source)
	require.Equal(t, PermRead, direct.Effective)
	require.True(t, direct.IsDirect)

	// User 2's cell merges the group's allow and deny entries.
	viaGroup := findCell(t, m, Principal{Type: PrincipalUser, ID: 2}, ResourceRef{Type: ResourceWorkspace, ID: ptr(10)})
	require.Equal(t, StrategyACL, viaGroup.Source)
	require.Equal(t, PermRead, viaGroup.Effective)
	require.True(t, viaGroup.IsDenied)

	// The group principal's own row.
	groupCell := findCell(t, m, Principal{Type: PrincipalGroup, ID: 100}, ResourceRef{Type: ResourceWorkspace, ID: ptr(10)})
	require.Equal(t, PermRead, groupCell.Effective)

	// Workspace 11 has no entries and stays a legacy cell.
	legacy := findCell(t, m, Principal{Type: PrincipalUser, ID: 1}, ResourceRef{Type: ResourceWorkspace, ID: ptr(11)})
	require.Equal(t, StrategyLegacy, legacy.Source)
}

func TestBuildMatrixInheritedColumn(t *testing.T) {
	db := matrixFixture()
	db.addACL(ResourceWorkspace, ptr(10), PrincipalUser, 1, PermRead, false)
	svc := testService(db)

	// Without inheritance the project cell sees only its own entries.
	m, err := svc.BuildMatrix(context.Background(), MatrixFilter{
		ResourceTypes: []ResourceType{ResourceProject},
	})
	require.NoError(t, err)
	cell := findCell(t, m, Principal{Type: PrincipalUser, ID: 1}, ResourceRef{Type: ResourceProject, ID: ptr(20)})
	require.Equal(t, StrategyLegacy, cell.Source, "no direct entries, so the cell shows legacy roles")

	// With inheritance the workspace grant flows down and is attributed.
	m, err = svc.BuildMatrix(context.Background(), MatrixFilter{
		ResourceTypes:    []ResourceType{ResourceProject},
		IncludeInherited: true,
	})
	require.NoError(t, err)
	cell = findCell(t, m, Principal{Type: PrincipalUser, ID: 1}, ResourceRef{Type: ResourceProject, ID: ptr(20)})
	require.Equal(t, StrategyACL, cell.Source)
	require.Equal(t, PermRead, cell.Effective)
	require.False(t, cell.IsDirect)
	require.NotNil(t, cell.InheritedFrom)
	require.Equal(t, ResourceWorkspace, cell.InheritedFrom.Type)
}

func TestBuildMatrixWorkspaceScoping(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)

	m, err := svc.BuildMatrix(context.Background(), MatrixFilter{
		WorkspaceID: ptr(10),
	})
	require.NoError(t, err)

	for _, cell := range m.Cells {
		if cell.Resource.Type == ResourceWorkspace {
			require.Equal(t, int64(10), *cell.Resource.ID)
		}
	}
}

func TestBuildMatrixPrincipalTypeFilter(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)

	m, err := svc.BuildMatrix(context.Background(), MatrixFilter{
		PrincipalTypes: []PrincipalType{PrincipalGroup},
	})
	require.NoError(t, err)
	require.NotEmpty(t, m.Cells)
	for _, cell := range m.Cells {
		require.Equal(t, PrincipalGroup, cell.Principal.Type)
	}
}

func TestBuildMatrixTypeWideResources(t *testing.T) {
	db := matrixFixture()
	db.addACL(ResourceAdmin, nil, PrincipalUser, 1, PermExecute, false)
	svc := testService(db)

	m, err := svc.BuildMatrix(context.Background(), MatrixFilter{
		ResourceTypes: []ResourceType{ResourceAdmin},
	})
	require.NoError(t, err)

	cell := findCell(t, m, Principal{Type: PrincipalUser, ID: 1}, ResourceRef{Type: ResourceAdmin})
	require.Equal(t, PermExecute, cell.Effective)
	require.Equal(t, StrategyACL, cell.Source)
}

func TestBuildMatrixPaginationDeterministic(t *testing.T) {
	db := matrixFixture()
	svc := testService(db)
	ctx := context.Background()

	full, err := svc.BuildMatrix(ctx, MatrixFilter{})
	require.NoError(t, err)

	// Cells arrive sorted by principal then resource.
	sorted := sort.SliceIsSorted(full.Cells, func(i, j int) bool {
		a, b := full.Cells[i], full.Cells[j]
		if a.Principal.Type != b.Principal.Type {
			return a.Principal.Type < b.Principal.Type
		}
		if a.Principal.ID != b.Principal.ID {
			return a.Principal.ID < b.Principal.ID
		}
		if a.Resource.Type != b.Resource.Type {
			return a.Resource.Type < b.Resource.Type
		}
		return derefID(a.Resource.ID) < derefID(b.Resource.ID)
	})
	require.True(t, sorted)

	// Paging through in chunks reproduces the full set exactly.
	var paged []MatrixCell
	for offset := 0; offset < full.Total; offset += 4 {
		page, err := svc.BuildMatrix(ctx, MatrixFilter{Offset: offset, Limit: 4})
		require.NoError(t, err)
		require.Equal(t, full.Total, page.Total)
		paged = append(paged, page.Cells...)
	}
	require.Equal(t, full.Cells, paged)

	// An offset beyond the end yields an empty page, not an error.
	page, err := svc.BuildMatrix(ctx, MatrixFilter{Offset: full.Total + 1})
	require.NoError(t, err)
	require.Empty(t, page.Cells)
	require.Equal(t, full.Total, page.Total)
}
