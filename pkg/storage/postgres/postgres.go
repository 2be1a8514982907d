package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hydro13/kanbu-sub005/pkg/authz"
	"github.com/hydro13/kanbu-sub005/pkg/config"
)

// Store is the PostgreSQL implementation of authz.DB. Every View call
// runs inside one read-only repeatable-read transaction so an access
// decision's dependent lookups observe a consistent snapshot.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the configured pool settings.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	return &Store{db: db}, nil
}

// New wraps an existing database handle, used by tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// View implements authz.DB.
func (s *Store) View(ctx context.Context, fn func(authz.Stores) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStores{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.Tx and *sql.DB.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// txStores bundles the snapshot-scoped store implementations.
type txStores struct {
	tx *sql.Tx
}

func (t *txStores) Users() authz.UserStore           { return &userStore{q: t.tx} }
func (t *txStores) Groups() authz.GroupStore         { return &groupStore{q: t.tx} }
func (t *txStores) Workspaces() authz.WorkspaceStore { return &workspaceStore{q: t.tx} }
func (t *txStores) Projects() authz.ProjectStore     { return &projectStore{q: t.tx} }
func (t *txStores) Tasks() authz.TaskStore           { return &taskStore{q: t.tx} }
func (t *txStores) ACL() authz.ACLStore              { return &aclStore{q: t.tx} }

type userStore struct {
	q queryer
}

func (s *userStore) GetUser(ctx context.Context, id int64) (*authz.User, error) {
	query := `
		SELECT id, platform_role, is_active
		FROM users
		WHERE id = $1
	`
	var u authz.User
	err := s.q.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.PlatformRole, &u.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &u, nil
}

func (s *userStore) ListUsers(ctx context.Context) ([]authz.User, error) {
	query := `
		SELECT id, platform_role, is_active
		FROM users
		WHERE is_active = true
		ORDER BY id ASC
	`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []authz.User
	for rows.Next() {
		var u authz.User
		if err := rows.Scan(&u.ID, &u.PlatformRole, &u.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type groupStore struct {
	q queryer
}

const groupColumns = `id, name, type, workspace_id, project_id, is_active, is_security_group`

func scanGroup(scanner interface{ Scan(dest ...interface{}) error }) (*authz.Group, error) {
	var g authz.Group
	var workspaceID, projectID sql.NullInt64
	err := scanner.Scan(&g.ID, &g.Name, &g.Type, &workspaceID, &projectID, &g.IsActive, &g.IsSecurityGroup)
	if err != nil {
		return nil, err
	}
	if workspaceID.Valid {
		id := workspaceID.Int64
		g.WorkspaceID = &id
	}
	if projectID.Valid {
		id := projectID.Int64
		g.ProjectID = &id
	}
	return &g, nil
}

func (s *groupStore) GetUserGroups(ctx context.Context, userID int64) ([]authz.Group, error) {
	query := `
		SELECT g.id, g.name, g.type, g.workspace_id, g.project_id, g.is_active, g.is_security_group
		FROM groups g
		JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.id ASC
	`
	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get groups for user %d: %w", userID, err)
	}
	defer rows.Close()

	var groups []authz.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (s *groupStore) GetGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	query := `
		SELECT user_id
		FROM group_members
		WHERE group_id = $1
		ORDER BY user_id ASC
	`
	rows, err := s.q.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (s *groupStore) FindSystemGroup(ctx context.Context, name string) (*authz.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE type = 'SYSTEM' AND name = $1
		LIMIT 1
	`
	g, err := scanGroup(s.q.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find system group %q: %w", name, err)
	}
	return g, nil
}

func (s *groupStore) ListGroups(ctx context.Context) ([]authz.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE is_active = true
		ORDER BY id ASC
	`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []authz.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

type workspaceStore struct {
	q queryer
}

func (s *workspaceStore) GetWorkspace(ctx context.Context, id int64) (*authz.Workspace, error) {
	query := `
		SELECT id, name, is_active
		FROM workspaces
		WHERE id = $1
	`
	var ws authz.Workspace
	err := s.q.QueryRowContext(ctx, query, id).Scan(&ws.ID, &ws.Name, &ws.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace %d: %w", id, err)
	}
	return &ws, nil
}

func (s *workspaceStore) GetWorkspaceMember(ctx context.Context, workspaceID, userID int64) (*authz.WorkspaceMembership, error) {
	query := `
		SELECT workspace_id, user_id, role
		FROM workspace_users
		WHERE workspace_id = $1 AND user_id = $2
	`
	var m authz.WorkspaceMembership
	err := s.q.QueryRowContext(ctx, query, workspaceID, userID).Scan(&m.WorkspaceID, &m.UserID, &m.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace member: %w", err)
	}
	return &m, nil
}

func (s *workspaceStore) ListWorkspaces(ctx context.Context) ([]authz.Workspace, error) {
	query := `
		SELECT id, name, is_active
		FROM workspaces
		WHERE is_active = true
		ORDER BY id ASC
	`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []authz.Workspace
	for rows.Next() {
		var ws authz.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

type projectStore struct {
	q queryer
}

func (s *projectStore) GetProject(ctx context.Context, id int64) (*authz.Project, error) {
	query := `
		SELECT id, workspace_id, name, is_active, is_public
		FROM projects
		WHERE id = $1
	`
	var p authz.Project
	err := s.q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.IsActive, &p.IsPublic)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return &p, nil
}

func (s *projectStore) GetProjectMember(ctx context.Context, projectID, userID int64) (*authz.ProjectMember, error) {
	query := `
		SELECT project_id, user_id, role
		FROM project_members
		WHERE project_id = $1 AND user_id = $2
	`
	var m authz.ProjectMember
	err := s.q.QueryRowContext(ctx, query, projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project member: %w", err)
	}
	return &m, nil
}

func (s *projectStore) ListProjects(ctx context.Context, workspaceID *int64) ([]authz.Project, error) {
	query := `
		SELECT id, workspace_id, name, is_active, is_public
		FROM projects
		WHERE is_active = true AND ($1::bigint IS NULL OR workspace_id = $1)
		ORDER BY id ASC
	`
	rows, err := s.q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []authz.Project
	for rows.Next() {
		var p authz.Project
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.IsActive, &p.IsPublic); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

type taskStore struct {
	q queryer
}

func (s *taskStore) GetTask(ctx context.Context, id int64) (*authz.Task, error) {
	query := `
		SELECT id, project_id, is_active
		FROM tasks
		WHERE id = $1
	`
	var t authz.Task
	err := s.q.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.ProjectID, &t.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return &t, nil
}

type aclStore struct {
	q queryer
}

func (s *aclStore) FindEntries(ctx context.Context, resourceType authz.ResourceType, resourceID *int64, principals authz.PrincipalFilter) ([]authz.ACLEntry, error) {
	// IS NOT DISTINCT FROM matches the type-wide NULL rows when
	// resourceID is nil. Deny rows sort first; evaluation is
	// order-independent but the ordering keeps results deterministic.
	query := `
		SELECT id, resource_type, resource_id, principal_type, principal_id, permissions, deny
		FROM acl_entries
		WHERE resource_type = $1
		  AND resource_id IS NOT DISTINCT FROM $2
		  AND (
			($3::bigint IS NOT NULL AND principal_type = 'user' AND principal_id = $3)
			OR (principal_type = 'group' AND principal_id = ANY($4))
			OR ($3::bigint IS NULL AND cardinality($4::bigint[]) = 0)
		  )
		ORDER BY deny DESC, id ASC
	`
	groupIDs := principals.GroupIDs
	if groupIDs == nil {
		groupIDs = []int64{}
	}
	rows, err := s.q.QueryContext(ctx, query, resourceType, resourceID, principals.UserID, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to find acl entries: %w", err)
	}
	defer rows.Close()

	var entries []authz.ACLEntry
	for rows.Next() {
		var e authz.ACLEntry
		var resID sql.NullInt64
		var permissions int16
		if err := rows.Scan(&e.ID, &e.ResourceType, &resID, &e.PrincipalType, &e.PrincipalID, &permissions, &e.Deny); err != nil {
			return nil, fmt.Errorf("failed to scan acl entry: %w", err)
		}
		if resID.Valid {
			id := resID.Int64
			e.ResourceID = &id
		}
		e.Permissions = authz.Permission(permissions)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *aclStore) AnyEntries(ctx context.Context, resourceType authz.ResourceType, resourceID *int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM acl_entries
			WHERE resource_type = $1 AND resource_id IS NOT DISTINCT FROM $2
		)
	`
	var exists bool
	if err := s.q.QueryRowContext(ctx, query, resourceType, resourceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to probe acl entries: %w", err)
	}
	return exists, nil
}
