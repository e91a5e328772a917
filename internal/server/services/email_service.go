package services

import (
	"fmt"
	"time"

	"github.com/kamikazebr/madric/internal/server/config"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/resendlabs/resend-go"
)

// Notifier tells the operator about router-side events
type Notifier interface {
	DeviceConnected(device *models.Device) error
}

type EmailService struct {
	client        *resend.Client
	fromEmail     string
	operatorEmail string
	skipSend      bool
}

func NewEmailService(cfg config.EmailConfig) (*EmailService, error) {
	if cfg.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY environment variable not set")
	}
	if cfg.OperatorEmail == "" {
		return nil, fmt.Errorf("OPERATOR_EMAIL environment variable not set")
	}

	return &EmailService{
		client:        resend.NewClient(cfg.ResendAPIKey),
		fromEmail:     cfg.FromEmail,
		operatorEmail: cfg.OperatorEmail,
		skipSend:      cfg.SkipSend,
	}, nil
}

// DeviceConnected sends the "router provisioned" notice for a first registration
func (s *EmailService) DeviceConnected(device *models.Device) error {
	// Skip email sending in test mode
	if s.skipSend {
		return nil
	}

	ip := "unknown"
	if device.IP != nil {
		ip = *device.IP
	}
	connectedAt := time.Now().UTC()
	if device.ConnectedAt != nil {
		connectedAt = *device.ConnectedAt
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{s.operatorEmail},
		Subject: fmt.Sprintf("Madric router %s connected", device.ID),
		Html: fmt.Sprintf(`
			<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
				<h2 style="color: #333;">Router connected</h2>
				<p>A router fetched its hotspot provisioning script.</p>
				<p><strong>Device:</strong> <code>%s</code></p>
				<p><strong>Address:</strong> <code>%s</code></p>
				<p><strong>Connected at:</strong> %s</p>
				<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
				<p style="color: #999; font-size: 12px;">Madric - Hotspot access and vouchers</p>
			</div>
		`, device.ID, ip, connectedAt.Format(time.RFC1123)),
	}

	_, err := s.client.Emails.Send(params)
	return err
}
