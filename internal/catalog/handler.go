package catalog

import (
	"context"
	"net/http"

	"github.com/tutorhub/lessons-api/internal/httputil"
	"github.com/tutorhub/lessons-api/internal/logging"
)

// Lister lists the packages on sale
type Lister interface {
	ListActive(ctx context.Context) ([]Package, error)
}

type Handler struct {
	packages Lister
}

func NewHandler(packages Lister) *Handler {
	return &Handler{packages: packages}
}

// List returns the packages on sale
// @Summary      List lesson packages
// @Description  Packages that can be bought, cheapest first
// @Tags         packages
// @Produce      json
// @Success      200 {array} Package
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /packages [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	packages, err := h.packages.ListActive(r.Context())
	if err != nil {
		logging.GetLoggerFromContext(r.Context()).LogError("failed to list packages", err)
		httputil.RespondErrorWithCode(w, "failed to list packages", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}
	httputil.RespondJSON(w, packages, http.StatusOK)
}
