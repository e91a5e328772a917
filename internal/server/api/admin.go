package api

import (
	"net/http"
	"time"

	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/kamikazebr/madric/pkg/utils"
	"go.uber.org/zap"
)

type AdminHandler struct {
	deviceService  *services.DeviceService
	voucherService *services.VoucherService
	hosts          *services.HostCache
	logger         *zap.Logger
}

func NewAdminHandler(
	deviceService *services.DeviceService,
	voucherService *services.VoucherService,
	hosts *services.HostCache,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		deviceService:  deviceService,
		voucherService: voucherService,
		hosts:          hosts,
		logger:         logger,
	}
}

// IssueVouchers handles POST /admin/vouchers
func (h *AdminHandler) IssueVouchers(w http.ResponseWriter, r *http.Request) {
	var req models.IssueVouchersRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	vouchers, err := h.voucherService.Issue(r.Context(), req.Count, req.Amount, req.DurationMinutes)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	if claims := GetAdminClaims(r); claims != nil {
		h.logger.Info("Admin issued vouchers", zap.String("admin", claims.Subject), zap.Int("count", len(vouchers)))
	}
	respondJSON(w, http.StatusCreated, models.IssueVouchersResponse{Vouchers: vouchers})
}

// ListVouchers handles GET /admin/vouchers?used=&usedBy=&limit=
func (h *AdminHandler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	used, err := queryBool(r, "used")
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	filter := models.VoucherFilter{Used: used, Limit: limit}
	if usedBy := r.URL.Query().Get("usedBy"); usedBy != "" {
		filter.UsedBy = &usedBy
	}

	vouchers, err := h.voucherService.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	if vouchers == nil {
		vouchers = []models.Voucher{}
	}
	respondJSON(w, http.StatusOK, models.ListVouchersResponse{Vouchers: vouchers, Count: len(vouchers)})
}

// ListDevices handles GET /admin/devices?limit=
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	devices, err := h.deviceService.ListDevices(r.Context(), limit)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	respondJSON(w, http.StatusOK, models.ListDevicesResponse{Devices: devices, Count: len(devices)})
}

// ListHosts handles GET /admin/hosts: clients the router polled for recently
func (h *AdminHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts := h.hosts.Hosts()
	if hosts == nil {
		hosts = []services.HostSighting{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"hosts": hosts,
		"count": len(hosts),
	})
}

// Provision handles POST /admin/provision
func (h *AdminHandler) Provision(w http.ResponseWriter, r *http.Request) {
	result, err := h.deviceService.Provision(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ProvisionResponse{
		Message:  "router provisioned in " + result.Duration.Round(time.Millisecond).String(),
		Commands: result.Commands,
	})
}

// Whoami handles GET /admin/whoami
func (h *AdminHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	claims := GetAdminClaims(r)
	if claims == nil {
		respondErrorJSON(w, http.StatusUnauthorized, "missing authorization claims")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"subject": claims.Subject,
		"role":    utils.RoleAdmin,
	})
}
