package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kamikazebr/madric/pkg/models"
)

// ErrUnauthorized is returned when the admin token is missing, invalid or expired
var ErrUnauthorized = errors.New("unauthorized: run 'madric login' with a fresh admin token")

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Host is a client the router polled the access check for recently
type Host struct {
	MAC      string    `json:"mac"`
	Allow    bool      `json:"allow"`
	LastSeen time.Time `json:"lastSeen"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient talks to the madric API at baseURL. token is only needed for /admin routes.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			// provisioning waits for the whole script to be pushed
			Timeout: 3 * time.Minute,
		},
	}
}

// HealthCheck checks if the server is reachable and its store is healthy
func (c *Client) HealthCheck() (map[string]string, error) {
	var result map[string]string
	if err := c.do(http.MethodGet, "/health", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result, nil
}

// LinkDevice links a router; an empty id lets the server choose one
func (c *Client) LinkDevice(id string) (*models.LinkDeviceResponse, error) {
	var result models.LinkDeviceResponse
	err := c.do(http.MethodPost, "/devices/link", models.LinkDeviceRequest{ID: id}, &result,
		http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeviceStatus(id string) (*models.DeviceStatusResponse, error) {
	var result models.DeviceStatusResponse
	if err := c.do(http.MethodGet, "/devices/"+url.PathEscape(id)+"/status", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Redeem binds a voucher to mac. A refused redemption is not an error;
// check Success on the response.
func (c *Client) Redeem(code, mac string) (*models.RedeemVoucherResponse, error) {
	var result models.RedeemVoucherResponse
	err := c.do(http.MethodPost, "/vouchers/redeem", models.RedeemVoucherRequest{Code: code, MAC: mac}, &result,
		http.StatusOK, http.StatusNotFound, http.StatusConflict)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CheckAccess(mac string) (*models.AccessCheckResponse, error) {
	var result models.AccessCheckResponse
	if err := c.do(http.MethodGet, "/access/check?mac="+url.QueryEscape(mac), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Whoami() (string, error) {
	var result map[string]string
	if err := c.do(http.MethodGet, "/admin/whoami", nil, &result, http.StatusOK); err != nil {
		return "", err
	}
	return result["subject"], nil
}

func (c *Client) IssueVouchers(count int, amount float64, durationMinutes int) ([]models.Voucher, error) {
	req := models.IssueVouchersRequest{Count: count, Amount: amount, DurationMinutes: durationMinutes}
	var result models.IssueVouchersResponse
	if err := c.do(http.MethodPost, "/admin/vouchers", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return result.Vouchers, nil
}

// ListVouchers filters by used state and redeeming MAC when given
func (c *Client) ListVouchers(used *bool, usedBy string, limit int) ([]models.Voucher, error) {
	q := url.Values{}
	if used != nil {
		q.Set("used", strconv.FormatBool(*used))
	}
	if usedBy != "" {
		q.Set("usedBy", usedBy)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/admin/vouchers"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result models.ListVouchersResponse
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Vouchers, nil
}

func (c *Client) ListDevices() ([]models.Device, error) {
	var result models.ListDevicesResponse
	if err := c.do(http.MethodGet, "/admin/devices", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Devices, nil
}

func (c *Client) ListHosts() ([]Host, error) {
	var result struct {
		Hosts []Host `json:"hosts"`
	}
	if err := c.do(http.MethodGet, "/admin/hosts", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Hosts, nil
}

func (c *Client) Provision() (*models.ProvisionResponse, error) {
	var result models.ProvisionResponse
	if err := c.do(http.MethodPost, "/admin/provision", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// do sends body as JSON and decodes the answer into out when the status is one of accept
func (c *Client) do(method, path string, body, out interface{}, accept ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	for _, status := range accept {
		if resp.StatusCode == status {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
}

func errorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	// ErrorResponse and RedeemVoucherResponse both carry "message"
	var errResp models.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	return strings.TrimSpace(string(data))
}
