// Package authz is the permission engine for the Kanbu project-management
// platform: legacy hierarchical roles, NTFS-style ACL evaluation, and the
// per-resource transition between the two.
//
// # Overview
//
// Kanbu tenants are workspaces containing projects containing tasks.
// Access is decided by two engines:
//
//   1. Legacy roles: ordered role ladders on workspaces
//      (VIEWER < MEMBER < ADMIN < OWNER) and projects
//      (VIEWER < MEMBER < MANAGER < OWNER), derived from direct
//      membership rows, group memberships, and platform-wide privileges.
//   2. ACL entries: permission bitmasks (READ, WRITE, EXECUTE, DELETE,
//      PERMISSIONS) granted or denied to users and groups on a resource,
//      one of its ancestors, or type-wide.
//
// The transition between the engines is per resource instance: as soon
// as any ACL entry applies to a resource (directly, via an ancestor, or
// via the type-wide default), the ACL governs its boolean access checks.
// Resources without entries keep legacy behavior untouched.
//
// # The Access Gate
//
// Service is the only entry point other packages may call. Every decision
// runs inside one read-only snapshot (DB.View), so a check can never
// observe a half-applied revocation:
//
//	svc := authz.NewService(db, logger, authz.WithMetrics(metrics))
//
//	ok, err := svc.CanAccessProject(ctx, userID, projectID)
//
//	access, err := svc.RequireProjectAccess(ctx, userID, projectID, authz.ProjectManager)
//	if errors.Is(err, authz.ErrForbidden) { ... }
//	if errors.Is(err, authz.ErrNotFound) { ... }
//
// Evaluator internals report "no access" as zero values; only the
// Require* functions raise typed ForbiddenError/NotFoundError.
//
// # Role Resolution
//
// Workspace roles fold the highest of: the direct membership row (legacy
// OWNER rows normalize to ADMIN), WORKSPACE/WORKSPACE_ADMIN group
// memberships scoped to the workspace, a derived ADMIN for members of
// the "Domain Admins" SYSTEM group, and a derived OWNER for platform
// admins. The platform-admin and domain-admin derivations run before the
// workspace isActive check, so operators retain access to suspended
// tenants.
//
// Project roles require a workspace role first, then fold the
// workspace-derived rank with direct project membership and
// PROJECT/PROJECT_ADMIN groups. Public active projects grant read access
// to everyone. Tasks carry no permissions of their own and delegate to
// their project.
//
// # ACL Evaluation
//
// Effective permissions merge every applicable entry: allow bits
// accumulate across the resource, its ancestors, and the type-wide
// default; deny bits are collected the same way; the effective mask is
// allow &^ deny. A deny always beats an allow for the same bit,
// regardless of which level either came from.
//
// When ACL governs a resource, role-returning operations blend an
// ACL-derived pseudo-role (READ -> VIEWER, WRITE -> MEMBER,
// PERMISSIONS -> ADMIN/MANAGER) into the legacy candidate set so role
// gates keep working for callers during migration.
//
// # Permission Matrix
//
// BuildMatrix computes the full (principal x resource) grid of effective
// permissions for audit and the admin UI. All reads happen in one
// snapshot; cell masks are then computed in parallel with the same
// combine function the evaluator enforces with. Exporter writes matrix
// snapshots as CSV to a local directory or S3, on demand or on a cron
// schedule.
//
// # HTTP Surface
//
// Handlers exposes the engine as a read-only admin API and Middleware
// guards arbitrary routes behind role or permission requirements.
// CachedChecker optionally fronts the boolean checks with a two-tier
// (in-process LRU + Redis) cache keyed per user.
//
// # Related Packages
//
//   - pkg/storage/postgres: store implementations and schema
//   - pkg/observability: logging, metrics, tracing, health
//   - pkg/config: environment configuration
package authz
