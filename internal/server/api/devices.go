package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrCodeSize = 256

type DeviceHandler struct {
	deviceService *services.DeviceService
	logger        *zap.Logger
}

func NewDeviceHandler(deviceService *services.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		logger:        logger,
	}
}

// LinkDevice handles POST /devices/link. The body is optional.
func (h *DeviceHandler) LinkDevice(w http.ResponseWriter, r *http.Request) {
	var req models.LinkDeviceRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.deviceService.LinkDevice(r.Context(), req.ID)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, models.LinkDeviceResponse{
		ID:              result.Device.ID,
		RegistrationURL: result.RegistrationURL,
	})
}

// RegisterDevice handles GET /devices/register/{id}. The router fetches this URL
// and gets its provisioning script as plain text.
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	token := r.URL.Query().Get("token")

	result, err := h.deviceService.RegisterDevice(r.Context(), id, clientIP(r), token)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, result.Script.String())
}

// GetStatus handles GET /devices/{id}/status
func (h *DeviceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	device, err := h.deviceService.GetStatus(r.Context(), pathParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, deviceStatus(device))
}

// GetQRCode handles GET /devices/{id}/qr with a PNG of the registration URL
func (h *DeviceHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.deviceService.GetStatus(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	registrationURL, err := h.deviceService.RegistrationURL(id)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}

	png, err := qrcode.Encode(registrationURL, qrcode.Medium, qrCodeSize)
	if err != nil {
		h.logger.Error("Failed to encode QR code", zap.String("device_id", id), zap.Error(err))
		respondErrorJSON(w, http.StatusInternalServerError, "failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func deviceStatus(device *models.Device) models.DeviceStatusResponse {
	resp := models.DeviceStatusResponse{
		ID:        device.ID,
		Status:    device.Status,
		IP:        device.IP,
		CreatedAt: device.CreatedAt.UTC().Format(time.RFC3339),
	}
	if device.ConnectedAt != nil {
		connectedAt := device.ConnectedAt.UTC().Format(time.RFC3339)
		resp.ConnectedAt = &connectedAt
	}
	return resp
}
