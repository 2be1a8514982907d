package authz

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hydro13/kanbu-sub005/pkg/observability"
)

// Service is the access gate: the only surface CRUD services and UI
// policy checks are allowed to call. Every decision runs inside one
// consistent store snapshot. No other package may re-implement role
// ranking or ACL bit logic.
type Service struct {
	db      DB
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics enables Prometheus instrumentation of access decisions.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for
// per-decision spans. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("kanbu/authz") }
}

// NewService creates the access gate over the given snapshot source.
func NewService(db DB, log *observability.Logger, opts ...Option) *Service {
	s := &Service{
		db:     db,
		log:    log,
		tracer: otel.Tracer("kanbu/authz"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// decide runs fn against one snapshot, wrapped in a span and recorded in
// the check metrics.
func (s *Service) decide(ctx context.Context, op string, resourceType ResourceType, fn func(ctx context.Context, r *router) (allowed bool, strategy Strategy, err error)) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "authz."+op,
		trace.WithAttributes(attribute.String("authz.resource_type", string(resourceType))))
	defer span.End()

	start := time.Now()
	var allowed bool
	var strategy Strategy
	err := s.db.View(ctx, func(stores Stores) error {
		var err error
		allowed, strategy, err = fn(ctx, newRouter(stores))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	span.SetAttributes(
		attribute.Bool("authz.allowed", allowed),
		attribute.String("authz.strategy", string(strategy)),
	)
	if s.metrics != nil {
		s.metrics.ObserveAccessCheck(string(resourceType), string(strategy), allowed, time.Since(start))
	}
	if s.log != nil {
		s.log.WithFields(map[string]interface{}{
			"op":       op,
			"resource": string(resourceType),
			"strategy": string(strategy),
			"allowed":  allowed,
		}).Debug("access check")
	}
	return allowed, nil
}

// GetWorkspaceRole returns the user's effective workspace role, blending
// ACL pseudo-roles when the workspace is ACL-governed. The zero role
// means no access.
func (s *Service) GetWorkspaceRole(ctx context.Context, userID, workspaceID int64) (WorkspaceRole, error) {
	var role WorkspaceRole
	err := s.db.View(ctx, func(stores Stores) error {
		var err error
		role, err = newRouter(stores).workspaceRole(ctx, userID, workspaceID)
		return err
	})
	return role, err
}

// GetProjectRole returns the user's effective project role. The zero
// role means no access.
func (s *Service) GetProjectRole(ctx context.Context, userID, projectID int64) (ProjectRole, error) {
	var role ProjectRole
	err := s.db.View(ctx, func(stores Stores) error {
		var err error
		role, err = newRouter(stores).projectRole(ctx, userID, projectID)
		return err
	})
	return role, err
}

// CanAccessWorkspace reports whether the user may read the workspace.
func (s *Service) CanAccessWorkspace(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return s.decide(ctx, "CanAccessWorkspace", ResourceWorkspace, func(ctx context.Context, r *router) (bool, Strategy, error) {
		return r.workspaceAccess(ctx, userID, workspaceID)
	})
}

// CanAccessProject reports whether the user may read the project.
func (s *Service) CanAccessProject(ctx context.Context, userID, projectID int64) (bool, error) {
	return s.decide(ctx, "CanAccessProject", ResourceProject, func(ctx context.Context, r *router) (bool, Strategy, error) {
		return r.projectAccess(ctx, userID, projectID)
	})
}

// CanAccessTask reports whether the user may read the task, delegating
// entirely to the owning project.
func (s *Service) CanAccessTask(ctx context.Context, userID, taskID int64) (bool, error) {
	return s.decide(ctx, "CanAccessTask", ResourceTask, func(ctx context.Context, r *router) (bool, Strategy, error) {
		ok, err := r.taskAccess(ctx, userID, taskID)
		return ok, StrategyLegacy, err
	})
}

// CanModifyTask reports whether the user holds at least MEMBER rank on
// the task's project.
func (s *Service) CanModifyTask(ctx context.Context, userID, taskID int64) (bool, error) {
	return s.decide(ctx, "CanModifyTask", ResourceTask, func(ctx context.Context, r *router) (bool, Strategy, error) {
		task, role, err := r.taskRole(ctx, userID, taskID)
		if err != nil || task == nil {
			return false, StrategyLegacy, err
		}
		return HasMinProjectRole(role, ProjectMemberR), StrategyLegacy, nil
	})
}

// HasPermission reports whether the user's effective ACL mask on the
// resource contains the required bit.
func (s *Service) HasPermission(ctx context.Context, userID int64, resourceType ResourceType, resourceID int64, required Permission) (bool, error) {
	return s.decide(ctx, "HasPermission", resourceType, func(ctx context.Context, r *router) (bool, Strategy, error) {
		ok, err := r.hasPermission(ctx, userID, resourceType, &resourceID, required)
		return ok, StrategyACL, err
	})
}

// EffectivePermissions returns the merged ACL mask for a principal on a
// resource. A nil resourceID targets the type-wide scope. For user
// principals the user's group memberships are included.
func (s *Service) EffectivePermissions(ctx context.Context, principal Principal, resourceType ResourceType, resourceID *int64) (Permission, error) {
	var mask Permission
	err := s.db.View(ctx, func(stores Stores) error {
		ev := newEvaluator(stores)
		filter, err := principalFilterFor(ctx, ev, principal)
		if err != nil {
			return err
		}
		dec, err := ev.effectiveACL(ctx, filter, resourceType, resourceID)
		if err != nil {
			return err
		}
		mask = dec.Effective
		return nil
	})
	return mask, err
}

// IsACLEnabled reports whether ACL entries govern the resource instance.
func (s *Service) IsACLEnabled(ctx context.Context, resourceType ResourceType, resourceID int64) (bool, error) {
	var enabled bool
	err := s.db.View(ctx, func(stores Stores) error {
		var err error
		enabled, err = newEvaluator(stores).aclEnabled(ctx, resourceType, &resourceID)
		return err
	})
	return enabled, err
}

func principalFilterFor(ctx context.Context, ev *evaluator, principal Principal) (PrincipalFilter, error) {
	switch principal.Type {
	case PrincipalGroup:
		return PrincipalFilter{GroupIDs: []int64{principal.ID}}, nil
	case PrincipalUser:
		groupIDs, err := ev.groupIDsOf(ctx, principal.ID)
		if err != nil {
			return PrincipalFilter{}, err
		}
		id := principal.ID
		return PrincipalFilter{UserID: &id, GroupIDs: groupIDs}, nil
	default:
		return PrincipalFilter{}, fmt.Errorf("unknown principal type %q", principal.Type)
	}
}

// RequireWorkspaceAccess resolves the user's workspace role and fails
// with a typed Forbidden error when there is none or it is below min.
func (s *Service) RequireWorkspaceAccess(ctx context.Context, userID, workspaceID int64, min WorkspaceRole) (*WorkspaceAccess, error) {
	role, err := s.GetWorkspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, forbiddenf("no access to this workspace")
	}
	if min != "" && !HasMinWorkspaceRole(role, min) {
		return nil, forbiddenf("requires %s role or higher", min)
	}
	return &WorkspaceAccess{WorkspaceID: workspaceID, UserID: userID, Role: role}, nil
}

// RequireProjectAccess resolves the user's project role and fails with a
// typed Forbidden error when there is none or it is below min.
func (s *Service) RequireProjectAccess(ctx context.Context, userID, projectID int64, min ProjectRole) (*ProjectAccess, error) {
	var access *ProjectAccess
	err := s.db.View(ctx, func(stores Stores) error {
		r := newRouter(stores)
		project, err := stores.Projects().GetProject(ctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to get project %d: %w", projectID, err)
		}
		if project == nil {
			return &NotFoundError{Resource: ResourceProject, ID: projectID}
		}
		role, err := r.projectRole(ctx, userID, projectID)
		if err != nil {
			return err
		}
		if role == "" {
			return forbiddenf("no access to this project")
		}
		if min != "" && !HasMinProjectRole(role, min) {
			return forbiddenf("requires %s role or higher", min)
		}
		wsRole, err := r.workspaceRole(ctx, userID, project.WorkspaceID)
		if err != nil {
			return err
		}
		access = &ProjectAccess{
			ProjectID:     projectID,
			WorkspaceID:   project.WorkspaceID,
			UserID:        userID,
			Role:          role,
			WorkspaceRole: wsRole,
		}
		return nil
	})
	return access, err
}

// RequireTaskAccess resolves access to a task via its project. A missing
// task surfaces as a typed NotFound error so callers can distinguish it
// from a denial.
func (s *Service) RequireTaskAccess(ctx context.Context, userID, taskID int64, min ProjectRole) (*TaskAccess, error) {
	var access *TaskAccess
	err := s.db.View(ctx, func(stores Stores) error {
		r := newRouter(stores)
		task, role, err := r.taskRole(ctx, userID, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return &NotFoundError{Resource: ResourceTask, ID: taskID}
		}
		if role == "" {
			return forbiddenf("no access to this task")
		}
		if min != "" && !HasMinProjectRole(role, min) {
			return forbiddenf("requires %s role or higher", min)
		}
		access = &TaskAccess{TaskID: taskID, ProjectID: task.ProjectID, UserID: userID, Role: role}
		return nil
	})
	return access, err
}

// Composite policy predicates. These are declarative compositions over
// the role primitives so each rank comparison has a single source of
// truth.

// CanInviteToWorkspace requires ADMIN rank or higher on the workspace.
func (s *Service) CanInviteToWorkspace(ctx context.Context, userID, workspaceID int64) (bool, error) {
	role, err := s.GetWorkspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return false, err
	}
	return HasMinWorkspaceRole(role, WorkspaceAdmin), nil
}

// CanManageWorkspace requires ADMIN rank or higher on the workspace.
func (s *Service) CanManageWorkspace(ctx context.Context, userID, workspaceID int64) (bool, error) {
	role, err := s.GetWorkspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return false, err
	}
	return HasMinWorkspaceRole(role, WorkspaceAdmin), nil
}

// CanDeleteWorkspace requires OWNER rank, which only super-admins derive.
func (s *Service) CanDeleteWorkspace(ctx context.Context, userID, workspaceID int64) (bool, error) {
	role, err := s.GetWorkspaceRole(ctx, userID, workspaceID)
	if err != nil {
		return false, err
	}
	return role == WorkspaceOwner, nil
}

// CanManageProject requires MANAGER rank or higher on the project.
func (s *Service) CanManageProject(ctx context.Context, userID, projectID int64) (bool, error) {
	role, err := s.GetProjectRole(ctx, userID, projectID)
	if err != nil {
		return false, err
	}
	return HasMinProjectRole(role, ProjectManager), nil
}

// CanDeleteProject requires ADMIN rank or higher on the owning workspace,
// or OWNER rank on the project itself.
func (s *Service) CanDeleteProject(ctx context.Context, userID, projectID int64) (bool, error) {
	var allowed bool
	err := s.db.View(ctx, func(stores Stores) error {
		r := newRouter(stores)
		project, err := stores.Projects().GetProject(ctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to get project %d: %w", projectID, err)
		}
		if project == nil || !project.IsActive {
			return nil
		}
		wsRole, err := r.workspaceRole(ctx, userID, project.WorkspaceID)
		if err != nil {
			return err
		}
		if HasMinWorkspaceRole(wsRole, WorkspaceAdmin) {
			allowed = true
			return nil
		}
		projRole, err := r.projectRole(ctx, userID, projectID)
		if err != nil {
			return err
		}
		allowed = projRole == ProjectOwner
		return nil
	})
	return allowed, err
}
