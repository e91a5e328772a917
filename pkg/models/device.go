package models

import (
	"time"
)

// Device status values. A device only ever moves pending -> connected.
const (
	DeviceStatusPending   = "pending"
	DeviceStatusConnected = "connected"
)

type Device struct {
	ID     string `json:"id" db:"id" firestore:"id"`
	Status string `json:"status" db:"status" firestore:"status"`

	// Address the registration request came from
	IP *string `json:"ip,omitempty" db:"ip" firestore:"ip,omitempty"`

	// Metadata
	CreatedAt   time.Time  `json:"createdAt" db:"created_at" firestore:"createdAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty" db:"connected_at" firestore:"connectedAt,omitempty"`
}

// IsConnected reports whether the device has fetched its provisioning script
func (d *Device) IsConnected() bool {
	return d.Status == DeviceStatusConnected
}
