package models

// Device API types
type LinkDeviceRequest struct {
	ID string `json:"id,omitempty"`
}

type LinkDeviceResponse struct {
	ID              string `json:"id"`
	RegistrationURL string `json:"registrationUrl"`
}

type DeviceStatusResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	IP          *string `json:"ip"`
	CreatedAt   string  `json:"createdAt"`
	ConnectedAt *string `json:"connectedAt"`
}

// Voucher API types
type RedeemVoucherRequest struct {
	Code string `json:"code" validate:"required"`
	MAC  string `json:"mac" validate:"required,mac"`
}

type RedeemVoucherResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Duration granted, in minutes
	Duration *int `json:"duration,omitempty"`
}

// Access check types. This is the payload the router-side synchronizer polls.
type AccessCheckResponse struct {
	Allow bool `json:"allow"`
	// Remaining access in whole seconds, only set when Allow is true
	Remaining *int64  `json:"remaining,omitempty"`
	ExpiresAt *string `json:"expiresAt,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Admin API types
type IssueVouchersRequest struct {
	Count           int     `json:"count" validate:"required,min=1,max=1000"`
	Amount          float64 `json:"amount" validate:"min=0"`
	DurationMinutes int     `json:"durationMinutes" validate:"min=0"`
}

type IssueVouchersResponse struct {
	Vouchers []Voucher `json:"vouchers"`
}

type ListVouchersResponse struct {
	Vouchers []Voucher `json:"vouchers"`
	Count    int       `json:"count"`
}

type ListDevicesResponse struct {
	Devices []Device `json:"devices"`
	Count   int      `json:"count"`
}

type ProvisionResponse struct {
	Message  string `json:"message"`
	Commands int    `json:"commands"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
