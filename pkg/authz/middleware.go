package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hydro13/kanbu-sub005/pkg/contextkeys"
	"github.com/hydro13/kanbu-sub005/pkg/observability"
)

// Middleware wires the access gate into HTTP routing. Identity arrives on
// the X-User-ID header, set by the edge after authentication; this service
// never validates credentials itself.
type Middleware struct {
	svc *Service
	log *observability.Logger
}

// NewMiddleware creates HTTP middleware over the access gate.
func NewMiddleware(svc *Service, log *observability.Logger) *Middleware {
	return &Middleware{svc: svc, log: log}
}

// RequestID assigns a UUID to each request, preserving one supplied by
// the caller.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs each request with its duration and status.
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.log.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rw.status,
			"duration":   time.Since(start).String(),
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequireUser parses the X-User-ID header into the request context and
// rejects requests without one.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			writeError(w, http.StatusUnauthorized, "missing or invalid X-User-ID header")
			return
		}
		ctx := contextkeys.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireWorkspaceRole guards routes carrying a {workspace_id} path
// variable behind a minimum workspace role.
func (m *Middleware) RequireWorkspaceRole(min WorkspaceRole) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
			if _, err := m.svc.RequireWorkspaceAccess(r.Context(), userID, workspaceID, min); err != nil {
				m.writeAccessError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireProjectRole guards routes carrying a {project_id} path variable
// behind a minimum project role.
func (m *Middleware) RequireProjectRole(min ProjectRole) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
			if _, err := m.svc.RequireProjectAccess(r.Context(), userID, projectID, min); err != nil {
				m.writeAccessError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission guards routes behind an ACL permission bit on the
// resource named by the given path variable.
func (m *Middleware) RequirePermission(resourceType ResourceType, pathVar string, required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
			allowed, err := m.svc.HasPermission(r.Context(), userID, resourceType, resourceID, required)
			if err != nil {
				m.writeAccessError(w, r, err)
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) writeAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		m.log.WithError(err).WithField("path", r.URL.Path).Error("access check failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
