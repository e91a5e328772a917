package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kamikazebr/madric/internal/server/hotspot"
	"github.com/kamikazebr/madric/internal/server/metrics"
	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/kamikazebr/madric/pkg/utils"
	"go.uber.org/zap"
)

// MaxDeviceIDLength is the largest id every store backend can key on
const MaxDeviceIDLength = 255

// ScriptApplier pushes a provisioning script to the router
type ScriptApplier interface {
	Apply(ctx context.Context, script routeros.Script) (routeros.ApplyResult, error)
}

type DeviceServiceConfig struct {
	PublicBaseURL string
	Topology      hotspot.Topology

	// PushOnRegister applies the script to the router before answering a registration
	PushOnRegister bool

	// TokenSecret enables signed registration URLs when set
	TokenSecret string
	TokenTTL    time.Duration
}

type DeviceService struct {
	devices  storage.DeviceStore
	cfg      DeviceServiceConfig
	applier  ScriptApplier
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewDeviceService wires the registry. applier and notifier may be nil.
func NewDeviceService(
	devices storage.DeviceStore,
	cfg DeviceServiceConfig,
	applier ScriptApplier,
	notifier Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DeviceService {
	return &DeviceService{
		devices:  devices,
		cfg:      cfg,
		applier:  applier,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamps and expiry
func (s *DeviceService) SetClock(now func() time.Time) {
	s.now = now
}

// LinkResult is a device together with the URL the router should fetch
type LinkResult struct {
	Device          *models.Device
	RegistrationURL string
	Created         bool
}

// RegisterResult is the script served to the router and what was pushed
type RegisterResult struct {
	Device *models.Device
	Script routeros.Script
	Pushed bool
}

// LinkDevice creates a pending device or returns the existing one.
// An empty id gets a server-chosen UUID.
func (s *DeviceService) LinkDevice(ctx context.Context, id string) (*LinkResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	} else if len(id) > MaxDeviceIDLength || !utf8.ValidString(id) {
		return nil, invalid("id", "must be valid UTF-8 of at most %d bytes", MaxDeviceIDLength)
	}

	device := &models.Device{
		ID:        id,
		Status:    models.DeviceStatusPending,
		CreatedAt: s.now().UTC(),
	}
	created, err := s.devices.CreateIfAbsent(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("failed to link device: %w", err)
	}

	registrationURL, err := s.RegistrationURL(id)
	if err != nil {
		return nil, err
	}

	if created {
		s.metrics.DeviceLinked()
		s.logger.Info("Device linked", zap.String("device_id", id))
	}

	return &LinkResult{
		Device:          device,
		RegistrationURL: registrationURL,
		Created:         created,
	}, nil
}

// RegistrationURL builds the URL a router fetches to get its script.
// With a token secret configured it carries a signed, time-boxed token.
func (s *DeviceService) RegistrationURL(id string) (string, error) {
	registrationURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/devices/register/" + url.PathEscape(id)
	if s.cfg.TokenSecret == "" {
		return registrationURL, nil
	}

	token, _, err := utils.GenerateJWT(id, utils.RoleRegister, s.cfg.TokenSecret, s.cfg.TokenTTL, s.now())
	if err != nil {
		return "", fmt.Errorf("failed to generate registration token: %w", err)
	}
	return registrationURL + "?token=" + url.QueryEscape(token), nil
}

// RegisterDevice serves the provisioning script for a linked device.
// When a router is configured the script is pushed first; a push failure leaves
// the device untouched and is returned as a *routeros.TransportError.
func (s *DeviceService) RegisterDevice(ctx context.Context, id, observedIP, token string) (*RegisterResult, error) {
	if id == "" {
		return nil, invalid("id", "is required")
	}

	device, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil {
		return nil, ErrDeviceNotFound
	}

	if err := s.checkToken(id, token); err != nil {
		s.logger.Warn("Rejected registration token", zap.String("device_id", id), zap.Error(err))
		return nil, ErrInvalidToken
	}

	script, err := hotspot.BuildScript(s.cfg.Topology)
	if err != nil {
		return nil, fmt.Errorf("failed to build provisioning script: %w", err)
	}

	pushed := false
	if s.applier != nil && s.cfg.PushOnRegister {
		if _, err := s.apply(ctx, script, id); err != nil {
			return nil, err
		}
		pushed = true
	}

	var ip *string
	if observedIP != "" {
		ip = &observedIP
	}
	device, firstConnect, err := s.devices.MarkConnected(ctx, id, ip, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to mark device connected: %w", err)
	}

	s.logger.Info("Device registered",
		zap.String("device_id", id),
		zap.String("ip", observedIP),
		zap.Bool("pushed", pushed),
		zap.Int("commands", len(script.Commands())),
	)

	if firstConnect && s.notifier != nil {
		if err := s.notifier.DeviceConnected(device); err != nil {
			s.logger.Warn("Failed to send connect notification", zap.String("device_id", id), zap.Error(err))
		}
	}

	return &RegisterResult{Device: device, Script: script, Pushed: pushed}, nil
}

// Provision pushes the current script to the router outside of a registration
func (s *DeviceService) Provision(ctx context.Context) (routeros.ApplyResult, error) {
	if s.applier == nil {
		return routeros.ApplyResult{}, ErrRouterNotConfigured
	}
	script, err := s.Script()
	if err != nil {
		return routeros.ApplyResult{}, err
	}
	return s.apply(ctx, script, "")
}

// Script returns the provisioning script for the configured topology
func (s *DeviceService) Script() (routeros.Script, error) {
	script, err := hotspot.BuildScript(s.cfg.Topology)
	if err != nil {
		return routeros.Script{}, fmt.Errorf("failed to build provisioning script: %w", err)
	}
	return script, nil
}

func (s *DeviceService) GetStatus(ctx context.Context, id string) (*models.Device, error) {
	device, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

func (s *DeviceService) ListDevices(ctx context.Context, limit int) ([]models.Device, error) {
	devices, err := s.devices.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *DeviceService) checkToken(id, token string) error {
	if s.cfg.TokenSecret == "" {
		return nil
	}
	if token == "" {
		return fmt.Errorf("missing token")
	}
	claims, err := utils.ValidateJWT(token, s.cfg.TokenSecret)
	if err != nil {
		return err
	}
	if claims.Role != utils.RoleRegister || claims.Subject != id {
		return fmt.Errorf("token issued for %q", claims.Subject)
	}
	return nil
}

func (s *DeviceService) apply(ctx context.Context, script routeros.Script, deviceID string) (routeros.ApplyResult, error) {
	result, err := s.applier.Apply(ctx, script)
	if err != nil {
		s.metrics.Provision(metrics.OutcomeError, result.Duration)
		s.logger.Error("Failed to provision router",
			zap.String("device_id", deviceID),
			zap.Duration("took", result.Duration),
			zap.Error(err),
		)
		return result, err
	}
	s.metrics.Provision(metrics.OutcomeSuccess, result.Duration)
	s.logger.Info("Router provisioned",
		zap.String("device_id", deviceID),
		zap.Int("commands", result.Commands),
		zap.Duration("took", result.Duration),
	)
	return result, nil
}
