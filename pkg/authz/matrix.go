package authz

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// MatrixFilter restricts the principals and resources a matrix build
// enumerates. Zero-value slices mean "all of that dimension".
type MatrixFilter struct {
	ResourceTypes    []ResourceType  `json:"resource_types,omitempty"`
	WorkspaceID      *int64          `json:"workspace_id,omitempty"`
	PrincipalTypes   []PrincipalType `json:"principal_types,omitempty"`
	IncludeInherited bool            `json:"include_inherited"`
	Offset           int             `json:"offset"`
	Limit            int             `json:"limit"`
}

func (f MatrixFilter) wantsResource(rt ResourceType) bool {
	if len(f.ResourceTypes) == 0 {
		return rt == ResourceWorkspace || rt == ResourceProject
	}
	for _, t := range f.ResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}

func (f MatrixFilter) wantsPrincipal(pt PrincipalType) bool {
	if len(f.PrincipalTypes) == 0 {
		return true
	}
	for _, t := range f.PrincipalTypes {
		if t == pt {
			return true
		}
	}
	return false
}

// MatrixCell is one (principal, resource) intersection of the grid.
type MatrixCell struct {
	Principal     Principal    `json:"principal"`
	Resource      ResourceRef  `json:"resource"`
	Effective     Permission   `json:"effective"`
	Preset        string       `json:"preset"`
	Source        Strategy     `json:"source"`
	IsDirect      bool         `json:"is_direct"`
	IsDenied      bool         `json:"is_denied"`
	InheritedFrom *ResourceRef `json:"inherited_from,omitempty"`
}

// Matrix is the paginated result of a build.
type Matrix struct {
	Cells       []MatrixCell `json:"cells"`
	Total       int          `json:"total"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// matrixResource carries the per-resource data loaded inside the
// snapshot, so cell computation can run as pure CPU work afterwards.
type matrixResource struct {
	ref        ResourceRef
	levels     []levelEntries
	aclEnabled bool

	// Legacy fallback inputs, only populated when ACL does not govern.
	wsRoles   map[int64]WorkspaceRole // userID -> role
	projRoles map[int64]ProjectRole   // userID -> role
	project   *Project
}

// BuildMatrix computes the (principal x resource) effective-permission
// grid. All store reads happen inside one snapshot; per-cell mask
// computation then fans out over the loaded data. Cells are sorted by
// (principal, resource) so pagination is deterministic across builds.
func (s *Service) BuildMatrix(ctx context.Context, filter MatrixFilter) (*Matrix, error) {
	start := time.Now()
	var principals []Principal
	var resources []*matrixResource
	userGroups := make(map[int64][]int64)

	err := s.db.View(ctx, func(stores Stores) error {
		r := newRouter(stores)

		if filter.wantsPrincipal(PrincipalUser) {
			users, err := stores.Users().ListUsers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}
			for _, u := range users {
				principals = append(principals, Principal{Type: PrincipalUser, ID: u.ID})
				groupIDs, err := r.groupIDsOf(ctx, u.ID)
				if err != nil {
					return err
				}
				userGroups[u.ID] = groupIDs
			}
		}
		if filter.wantsPrincipal(PrincipalGroup) {
			groups, err := stores.Groups().ListGroups(ctx)
			if err != nil {
				return fmt.Errorf("failed to list groups: %w", err)
			}
			for _, g := range groups {
				principals = append(principals, Principal{Type: PrincipalGroup, ID: g.ID})
			}
		}

		refs, err := enumerateResources(ctx, stores, filter)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			res, err := loadMatrixResource(ctx, r, ref, principals, filter)
			if err != nil {
				return err
			}
			resources = append(resources, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Pure compute from here on; cell slots are index-disjoint per
	// goroutine so no locking is needed.
	cells := make([]MatrixCell, len(principals)*len(resources))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for ri, res := range resources {
		ri, res := ri, res
		g.Go(func() error {
			for pi, principal := range principals {
				cells[ri*len(principals)+pi] = computeCell(principal, res, userGroups, filter)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
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

	total := len(cells)
	if filter.Offset > 0 {
		if filter.Offset >= len(cells) {
			cells = nil
		} else {
			cells = cells[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(cells) {
		cells = cells[:filter.Limit]
	}

	if s.metrics != nil {
		s.metrics.ObserveMatrixBuild(total, time.Since(start))
	}
	return &Matrix{Cells: cells, Total: total, GeneratedAt: time.Now().UTC()}, nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return -1
	}
	return *id
}

func enumerateResources(ctx context.Context, stores Stores, filter MatrixFilter) ([]ResourceRef, error) {
	var refs []ResourceRef
	if filter.wantsResource(ResourceWorkspace) {
		workspaces, err := stores.Workspaces().ListWorkspaces(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list workspaces: %w", err)
		}
		for _, ws := range workspaces {
			if filter.WorkspaceID != nil && ws.ID != *filter.WorkspaceID {
				continue
			}
			id := ws.ID
			refs = append(refs, ResourceRef{Type: ResourceWorkspace, ID: &id})
		}
	}
	if filter.wantsResource(ResourceProject) {
		projects, err := stores.Projects().ListProjects(ctx, filter.WorkspaceID)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		for _, p := range projects {
			id := p.ID
			refs = append(refs, ResourceRef{Type: ResourceProject, ID: &id})
		}
	}
	// Admin and system scopes have no instances; they appear as their
	// type-wide rows.
	if filter.wantsResource(ResourceAdmin) {
		refs = append(refs, ResourceRef{Type: ResourceAdmin})
	}
	if filter.wantsResource(ResourceSystem) {
		refs = append(refs, ResourceRef{Type: ResourceSystem})
	}
	return refs, nil
}

func loadMatrixResource(ctx context.Context, r *router, ref ResourceRef, principals []Principal, filter MatrixFilter) (*matrixResource, error) {
	res := &matrixResource{ref: ref}

	levels, err := r.loadACLLevels(ctx, PrincipalFilter{}, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	if !filter.IncludeInherited {
		levels = levels[:1]
	}
	res.levels = levels
	for _, level := range levels {
		if len(level.Entries) > 0 {
			res.aclEnabled = true
			break
		}
	}

	if res.aclEnabled || ref.ID == nil {
		return res, nil
	}

	// Legacy fallback: resolve roles through the same evaluator that
	// enforces access, one call per user principal.
	switch ref.Type {
	case ResourceWorkspace:
		res.wsRoles = make(map[int64]WorkspaceRole)
		for _, p := range principals {
			if p.Type != PrincipalUser {
				continue
			}
			role, err := r.workspaceRole(ctx, p.ID, *ref.ID)
			if err != nil {
				return nil, err
			}
			res.wsRoles[p.ID] = role
		}
	case ResourceProject:
		res.projRoles = make(map[int64]ProjectRole)
		project, err := r.s.Projects().GetProject(ctx, *ref.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get project %d: %w", *ref.ID, err)
		}
		res.project = project
		for _, p := range principals {
			if p.Type != PrincipalUser {
				continue
			}
			role, err := r.projectRole(ctx, p.ID, *ref.ID)
			if err != nil {
				return nil, err
			}
			res.projRoles[p.ID] = role
		}
	}
	return res, nil
}

// computeCell derives one cell from preloaded snapshot data using the
// same combineACL the evaluator enforces with.
func computeCell(principal Principal, res *matrixResource, userGroups map[int64][]int64, filter MatrixFilter) MatrixCell {
	cell := MatrixCell{Principal: principal, Resource: res.ref}

	if res.aclEnabled || res.ref.ID == nil {
		filterFor := PrincipalFilter{}
		switch principal.Type {
		case PrincipalUser:
			id := principal.ID
			filterFor = PrincipalFilter{UserID: &id, GroupIDs: userGroups[principal.ID]}
		case PrincipalGroup:
			filterFor = PrincipalFilter{GroupIDs: []int64{principal.ID}}
		}
		dec := combineACL(res.levels, filterFor)
		cell.Effective = dec.Effective
		cell.Source = StrategyACL
		cell.IsDirect = dec.Direct
		cell.IsDenied = dec.Deny != 0
		if filter.IncludeInherited {
			cell.InheritedFrom = dec.InheritedFrom
		}
	} else {
		cell.Source = StrategyLegacy
		switch res.ref.Type {
		case ResourceWorkspace:
			if principal.Type == PrincipalUser {
				role := res.wsRoles[principal.ID]
				cell.Effective = legacyWorkspaceMask(role)
				cell.IsDirect = role != ""
			}
		case ResourceProject:
			if principal.Type == PrincipalUser {
				role := res.projRoles[principal.ID]
				cell.Effective = legacyProjectMask(role)
				cell.IsDirect = role != ""
			}
		}
	}

	cell.Preset = cell.Effective.Preset()
	return cell
}

// legacyWorkspaceMask is the display-mask equivalent of a legacy
// workspace role, the inverse of the pseudo-role mapping. Display only.
func legacyWorkspaceMask(role WorkspaceRole) Permission {
	switch role {
	case WorkspaceViewer:
		return PermRead
	case WorkspaceMember:
		return PermRead | PermWrite | PermExecute
	case WorkspaceAdmin:
		return PermRead | PermWrite | PermExecute | PermPermissions
	case WorkspaceOwner:
		return PermFullControl
	default:
		return 0
	}
}

// legacyProjectMask mirrors legacyWorkspaceMask on the project ladder.
func legacyProjectMask(role ProjectRole) Permission {
	switch role {
	case ProjectViewer:
		return PermRead
	case ProjectMemberR:
		return PermRead | PermWrite | PermExecute
	case ProjectManager:
		return PermRead | PermWrite | PermExecute | PermPermissions
	case ProjectOwner:
		return PermFullControl
	default:
		return 0
	}
}
