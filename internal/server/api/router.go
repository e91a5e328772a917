package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Devices  *services.DeviceService
	Vouchers *services.VoucherService
	Access   *services.AccessService
	Hosts    *services.HostCache
	Store    Pinger

	AdminTokenSecret string
	Gatherer         prometheus.Gatherer
	Logger           *zap.Logger
}

// NewRouter builds the HTTP API. Public routes are served both at the root and
// under /api.
func NewRouter(cfg RouterConfig) http.Handler {
	deviceHandler := NewDeviceHandler(cfg.Devices, cfg.Logger)
	voucherHandler := NewVoucherHandler(cfg.Vouchers, cfg.Logger)
	accessHandler := NewAccessHandler(cfg.Access, cfg.Logger)
	adminHandler := NewAdminHandler(cfg.Devices, cfg.Vouchers, cfg.Hosts, cfg.Logger)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	r.Get("/health", healthHandler(cfg.Store))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	routes := func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Post("/link", deviceHandler.LinkDevice)
			r.Get("/register/{id}", deviceHandler.RegisterDevice)
			r.Get("/{id}/status", deviceHandler.GetStatus)
			r.Get("/{id}/qr", deviceHandler.GetQRCode)
		})

		r.Post("/vouchers/redeem", voucherHandler.Redeem)
		r.Get("/access/check", accessHandler.Check)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminMiddleware(cfg.AdminTokenSecret))
			r.Get("/whoami", adminHandler.Whoami)
			r.Post("/vouchers", adminHandler.IssueVouchers)
			r.Get("/vouchers", adminHandler.ListVouchers)
			r.Get("/devices", adminHandler.ListDevices)
			r.Get("/hosts", adminHandler.ListHosts)
			r.Post("/provision", adminHandler.Provision)
		})
	}
	r.Group(routes)
	r.Route("/api", routes)

	return r
}

func healthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":  "unhealthy",
					"service": "madric",
					"error":   err.Error(),
				})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "madric",
			"version": version.Version,
		})
	}
}
