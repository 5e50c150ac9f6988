package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// PermissionsHandler exposes the role ladder and capability catalog.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers permission routes. Callers must mount an authenticator first.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
}

type capabilityView struct {
	Name    Capability `json:"name"`
	Scope   Role       `json:"scope"`
	Granted bool       `json:"granted"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	caps := Capabilities()
	views := make([]capabilityView, 0, len(caps))
	for _, c := range caps {
		views = append(views, capabilityView{
			Name:    c,
			Scope:   c.Scope(),
			Granted: HasPermission(p.GetRole(), p.Capabilities(), c),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":         p.GetRole(),
		"roles":        Roles(),
		"levels":       Levels(),
		"capabilities": views,
	})
}
