package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/pkg/models"
	"go.uber.org/zap"
)

type VoucherHandler struct {
	voucherService *services.VoucherService
	logger         *zap.Logger
}

func NewVoucherHandler(voucherService *services.VoucherService, logger *zap.Logger) *VoucherHandler {
	return &VoucherHandler{
		voucherService: voucherService,
		logger:         logger,
	}
}

// Redeem handles POST /vouchers/redeem
func (h *VoucherHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemVoucherRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, models.RedeemVoucherResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	voucher, err := h.voucherService.Redeem(r.Context(), req.Code, req.MAC)
	if err != nil {
		status := statusFor(err)
		message := err.Error()
		switch {
		case errors.Is(err, services.ErrVoucherNotFound):
			message = "Invalid voucher code"
		case errors.Is(err, services.ErrVoucherAlreadyUsed):
			message = "Voucher has already been used"
		case status == http.StatusInternalServerError:
			h.logger.Error("Voucher redemption failed", zap.String("code", req.Code), zap.Error(err))
			message = "internal error"
		}
		respondJSON(w, status, models.RedeemVoucherResponse{
			Success: false,
			Message: message,
		})
		return
	}

	duration := voucher.DurationMinutes
	respondJSON(w, http.StatusOK, models.RedeemVoucherResponse{
		Success:  true,
		Message:  fmt.Sprintf("Voucher redeemed: %d minutes of access", duration),
		Duration: &duration,
	})
}
