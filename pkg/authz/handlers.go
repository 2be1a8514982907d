package authz

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/hydro13/kanbu-sub005/pkg/contextkeys"
	"github.com/hydro13/kanbu-sub005/pkg/observability"
)

// Handlers exposes the permission engine as a read-only HTTP API for
// admin tooling and the permission matrix UI. Mutations of roles,
// memberships and ACL entries belong to the CRUD services, not here.
type Handlers struct {
	svc     *Service
	checker AccessChecker
	log     *observability.Logger
}

// NewHandlers creates the HTTP handlers. checker is the boolean-check
// surface, usually the cached decorator; pass svc itself to bypass
// caching.
func NewHandlers(svc *Service, checker AccessChecker, log *observability.Logger) *Handlers {
	if checker == nil {
		checker = svc
	}
	return &Handlers{svc: svc, checker: checker, log: log}
}

// RegisterRoutes registers the permission API routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/matrix", h.GetMatrix).Methods("GET")
	router.HandleFunc("/matrix/export", h.ExportMatrix).Methods("GET")
	router.HandleFunc("/permissions/effective", h.GetEffectivePermissions).Methods("GET")

	router.HandleFunc("/access/workspaces/{workspace_id}", h.CheckWorkspaceAccess).Methods("GET")
	router.HandleFunc("/access/projects/{project_id}", h.CheckProjectAccess).Methods("GET")
	router.HandleFunc("/access/tasks/{task_id}", h.CheckTaskAccess).Methods("GET")

	router.HandleFunc("/roles/workspaces/{workspace_id}", h.GetWorkspaceRole).Methods("GET")
	router.HandleFunc("/roles/projects/{project_id}", h.GetProjectRole).Methods("GET")
}

// GetMatrix builds and returns the permission matrix as JSON.
func (h *Handlers) GetMatrix(w http.ResponseWriter, r *http.Request) {
	filter, err := matrixFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	matrix, err := h.svc.BuildMatrix(r.Context(), filter)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}

// ExportMatrix streams the permission matrix as CSV.
func (h *Handlers) ExportMatrix(w http.ResponseWriter, r *http.Request) {
	filter, err := matrixFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Exports are full snapshots; pagination applies to the JSON view only.
	filter.Offset = 0
	filter.Limit = 0
	matrix, err := h.svc.BuildMatrix(r.Context(), filter)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="permission-matrix.csv"`)
	if err := WriteMatrixCSV(w, matrix); err != nil {
		h.log.WithError(err).Error("matrix CSV write failed")
	}
}

// GetEffectivePermissions returns the merged ACL mask for a principal on
// a resource. Omitting resource_id targets the type-wide scope.
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	principalType := PrincipalType(q.Get("principal_type"))
	if principalType != PrincipalUser && principalType != PrincipalGroup {
		writeError(w, http.StatusBadRequest, "principal_type must be user or group")
		return
	}
	principalID, err := strconv.ParseInt(q.Get("principal_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal_id")
		return
	}
	resourceType := ResourceType(q.Get("resource_type"))
	if resourceType == "" {
		writeError(w, http.StatusBadRequest, "resource_type is required")
		return
	}
	var resourceID *int64
	if raw := q.Get("resource_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid resource_id")
			return
		}
		resourceID = &id
	}

	mask, err := h.svc.EffectivePermissions(r.Context(),
		Principal{Type: principalType, ID: principalID}, resourceType, resourceID)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal": Principal{Type: principalType, ID: principalID},
		"resource":  ResourceRef{Type: resourceType, ID: resourceID},
		"effective": mask,
		"preset":    mask.Preset(),
	})
}

// CheckWorkspaceAccess reports whether the calling user may read the
// workspace.
func (h *Handlers) CheckWorkspaceAccess(w http.ResponseWriter, r *http.Request) {
	h.checkAccess(w, r, "workspace_id", h.checker.CanAccessWorkspace)
}

// CheckProjectAccess reports whether the calling user may read the
// project.
func (h *Handlers) CheckProjectAccess(w http.ResponseWriter, r *http.Request) {
	h.checkAccess(w, r, "project_id", h.checker.CanAccessProject)
}

// CheckTaskAccess reports whether the calling user may read the task.
func (h *Handlers) CheckTaskAccess(w http.ResponseWriter, r *http.Request) {
	h.checkAccess(w, r, "task_id", h.checker.CanAccessTask)
}

func (h *Handlers) checkAccess(w http.ResponseWriter, r *http.Request, pathVar string, check accessCheckFunc) {
	userID, ok := contextkeys.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	resourceID, err := pathID(r, pathVar)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid resource ID")
		return
	}
	allowed, err := check(r.Context(), userID, resourceID)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"allowed": allowed,
	})
}

// GetWorkspaceRole returns the calling user's effective workspace role.
func (h *Handlers) GetWorkspaceRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := contextkeys.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	workspaceID, err := pathID(r, "workspace_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workspace ID")
		return
	}
	role, err := h.svc.GetWorkspaceRole(r.Context(), userID, workspaceID)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"role":    role,
	})
}

// GetProjectRole returns the calling user's effective project role.
func (h *Handlers) GetProjectRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := contextkeys.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	projectID, err := pathID(r, "project_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project ID")
		return
	}
	role, err := h.svc.GetProjectRole(r.Context(), userID, projectID)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"role":    role,
	})
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func matrixFilterFromQuery(r *http.Request) (MatrixFilter, error) {
	q := r.URL.Query()
	var filter MatrixFilter

	if raw := q.Get("resource_types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.ResourceTypes = append(filter.ResourceTypes, ResourceType(strings.TrimSpace(t)))
		}
	}
	if raw := q.Get("principal_types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.PrincipalTypes = append(filter.PrincipalTypes, PrincipalType(strings.TrimSpace(t)))
		}
	}
	if raw := q.Get("workspace_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, errors.New("invalid workspace_id")
		}
		filter.WorkspaceID = &id
	}
	filter.IncludeInherited = q.Get("include_inherited") == "true"
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	return filter, nil
}
