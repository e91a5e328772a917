package api

import (
	"net/http"
	"time"

	"github.com/kamikazebr/madric/internal/server/hotspot"
	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/pkg/models"
	"go.uber.org/zap"
)

type AccessHandler struct {
	accessService *services.AccessService
	logger        *zap.Logger
}

func NewAccessHandler(accessService *services.AccessService, logger *zap.Logger) *AccessHandler {
	return &AccessHandler{
		accessService: accessService,
		logger:        logger,
	}
}

// routerAccessResponse is the compact body the router-side synchronizer parses.
// Field order matters: the router reads "remaining" up to the closing brace.
type routerAccessResponse struct {
	Allow     bool   `json:"allow"`
	Remaining *int64 `json:"remaining,omitempty"`
}

// Check handles GET /access/check?mac=...[&format=router]
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	mac := r.URL.Query().Get("mac")
	if mac == "" {
		respondErrorJSON(w, http.StatusBadRequest, "mac is required")
		return
	}

	grant, err := h.accessService.CheckAccess(r.Context(), mac)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	var remaining *int64
	if grant.Allow {
		secs := grant.RemainingSeconds()
		remaining = &secs
	}

	if r.URL.Query().Get("format") == hotspot.RouterFormat {
		h.accessService.RecordPoll(grant)
		respondJSON(w, http.StatusOK, routerAccessResponse{Allow: grant.Allow, Remaining: remaining})
		return
	}

	resp := models.AccessCheckResponse{
		Allow:     grant.Allow,
		Remaining: remaining,
	}
	if grant.ExpiresAt != nil {
		expiresAt := grant.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &expiresAt
	}
	if grant.Allow {
		resp.Message = "access granted for " + grant.Remaining.Truncate(time.Second).String()
	} else {
		resp.Message = grant.Reason
	}
	respondJSON(w, http.StatusOK, resp)
}
