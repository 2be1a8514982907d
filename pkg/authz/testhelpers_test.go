package authz

import (
	"context"
	"io"
	"sort"

	"github.com/hydro13/kanbu-sub005/pkg/observability"
)

// memDB is an in-memory DB/Stores implementation for tests. Every View
// call sees the same maps, which is fine for single-goroutine tests that
// set up state before evaluating.
type memDB struct {
	users        map[int64]User
	groups       map[int64]Group
	groupMembers map[int64][]int64 // groupID -> userIDs
	workspaces   map[int64]Workspace
	wsMembers    []WorkspaceMembership
	projects     map[int64]Project
	projMembers  []ProjectMember
	tasks        map[int64]Task
	acl          []ACLEntry
	nextACLID    int64
}

func newMemDB() *memDB {
	return &memDB{
		users:        make(map[int64]User),
		groups:       make(map[int64]Group),
		groupMembers: make(map[int64][]int64),
		workspaces:   make(map[int64]Workspace),
		projects:     make(map[int64]Project),
		tasks:        make(map[int64]Task),
	}
}

func (db *memDB) View(ctx context.Context, fn func(Stores) error) error {
	return fn(db)
}

func (db *memDB) Users() UserStore           { return db }
func (db *memDB) Groups() GroupStore         { return db }
func (db *memDB) Workspaces() WorkspaceStore { return db }
func (db *memDB) Projects() ProjectStore     { return db }
func (db *memDB) Tasks() TaskStore           { return db }
func (db *memDB) ACL() ACLStore              { return db }

// Fixture builders.

func (db *memDB) addUser(id int64, role PlatformRole, active bool) {
	db.users[id] = User{ID: id, PlatformRole: role, IsActive: active}
}

func (db *memDB) addGroup(g Group, memberIDs ...int64) {
	db.groups[g.ID] = g
	db.groupMembers[g.ID] = append(db.groupMembers[g.ID], memberIDs...)
}

func (db *memDB) addWorkspace(id int64, active bool) {
	db.workspaces[id] = Workspace{ID: id, Name: "ws", IsActive: active}
}

func (db *memDB) addWorkspaceMember(workspaceID, userID int64, role WorkspaceRole) {
	db.wsMembers = append(db.wsMembers, WorkspaceMembership{WorkspaceID: workspaceID, UserID: userID, Role: role})
}

func (db *memDB) addProject(id, workspaceID int64, active, public bool) {
	db.projects[id] = Project{ID: id, WorkspaceID: workspaceID, Name: "proj", IsActive: active, IsPublic: public}
}

func (db *memDB) addProjectMember(projectID, userID int64, role ProjectRole) {
	db.projMembers = append(db.projMembers, ProjectMember{ProjectID: projectID, UserID: userID, Role: role})
}

func (db *memDB) addTask(id, projectID int64, active bool) {
	db.tasks[id] = Task{ID: id, ProjectID: projectID, IsActive: active}
}

func (db *memDB) addACL(resourceType ResourceType, resourceID *int64, principalType PrincipalType, principalID int64, perms Permission, deny bool) {
	db.nextACLID++
	db.acl = append(db.acl, ACLEntry{
		ID:            db.nextACLID,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		PrincipalType: principalType,
		PrincipalID:   principalID,
		Permissions:   perms,
		Deny:          deny,
	})
}

// UserStore

func (db *memDB) GetUser(ctx context.Context, id int64) (*User, error) {
	if u, ok := db.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (db *memDB) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	for _, u := range db.users {
		if u.IsActive {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// GroupStore

func (db *memDB) GetUserGroups(ctx context.Context, userID int64) ([]Group, error) {
	var groups []Group
	for groupID, members := range db.groupMembers {
		for _, m := range members {
			if m == userID {
				groups = append(groups, db.groups[groupID])
				break
			}
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (db *memDB) GetGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	return db.groupMembers[groupID], nil
}

func (db *memDB) FindSystemGroup(ctx context.Context, name string) (*Group, error) {
	for _, g := range db.groups {
		if g.Type == GroupSystem && g.Name == name {
			g := g
			return &g, nil
		}
	}
	return nil, nil
}

func (db *memDB) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	for _, g := range db.groups {
		if g.IsActive {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// WorkspaceStore

func (db *memDB) GetWorkspace(ctx context.Context, id int64) (*Workspace, error) {
	if ws, ok := db.workspaces[id]; ok {
		return &ws, nil
	}
	return nil, nil
}

func (db *memDB) GetWorkspaceMember(ctx context.Context, workspaceID, userID int64) (*WorkspaceMembership, error) {
	for _, m := range db.wsMembers {
		if m.WorkspaceID == workspaceID && m.UserID == userID {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (db *memDB) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var workspaces []Workspace
	for _, ws := range db.workspaces {
		if ws.IsActive {
			workspaces = append(workspaces, ws)
		}
	}
	sort.Slice(workspaces, func(i, j int) bool { return workspaces[i].ID < workspaces[j].ID })
	return workspaces, nil
}

// ProjectStore

func (db *memDB) GetProject(ctx context.Context, id int64) (*Project, error) {
	if p, ok := db.projects[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (db *memDB) GetProjectMember(ctx context.Context, projectID, userID int64) (*ProjectMember, error) {
	for _, m := range db.projMembers {
		if m.ProjectID == projectID && m.UserID == userID {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (db *memDB) ListProjects(ctx context.Context, workspaceID *int64) ([]Project, error) {
	var projects []Project
	for _, p := range db.projects {
		if !p.IsActive {
			continue
		}
		if workspaceID != nil && p.WorkspaceID != *workspaceID {
			continue
		}
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// TaskStore

func (db *memDB) GetTask(ctx context.Context, id int64) (*Task, error) {
	if t, ok := db.tasks[id]; ok {
		return &t, nil
	}
	return nil, nil
}

// ACLStore

func (db *memDB) FindEntries(ctx context.Context, resourceType ResourceType, resourceID *int64, principals PrincipalFilter) ([]ACLEntry, error) {
	var entries []ACLEntry
	for _, e := range db.acl {
		if e.ResourceType != resourceType || !sameID(e.ResourceID, resourceID) {
			continue
		}
		if !principals.Matches(e) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (db *memDB) AnyEntries(ctx context.Context, resourceType ResourceType, resourceID *int64) (bool, error) {
	for _, e := range db.acl {
		if e.ResourceType == resourceType && sameID(e.ResourceID, resourceID) {
			return true, nil
		}
	}
	return false, nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func ptr(v int64) *int64 { return &v }

func testService(db *memDB) *Service {
	return NewService(db, testLogger())
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}
