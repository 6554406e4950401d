package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"qrgate/internal/errs"
	"qrgate/internal/model"
)

// APIError is an {status:"error"} envelope returned by the backend.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %d: %s", e.HTTPStatus, e.Message)
}

// Unwrap maps the error code back onto the shared sentinels. A 401 without
// a code (e.g. from a proxy in front of the API) still counts as unauthorized.
func (e *APIError) Unwrap() error {
	if err := errs.FromCode(e.Code); err != nil {
		return err
	}
	if e.HTTPStatus == http.StatusUnauthorized {
		return errs.ErrUnauthorized
	}
	return nil
}

// Client calls the gate backend through the action envelope.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

var _ Backend = (*Client)(nil)

// NewClient creates a client with a short timeout; scans must fail fast.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// UseToken sets the bearer token sent with every call.
func (c *Client) UseToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, action string, params map[string]any, out any) error {
	payload := map[string]any{"action": action}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/proxy", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s read response: %w", action, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: unexpected response %s", action, resp.Status)
	}
	if env.Status != "success" {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message, Data: env.Data}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", action, err)
		}
	}
	return nil
}

// ValidatePassword checks the lector password. A wrong or locked password is
// reported in the result, not as an error.
func (c *Client) ValidatePassword(ctx context.Context, password, operatorID string) (AuthResult, error) {
	var out struct {
		Valid      bool      `json:"valido"`
		Locked     bool      `json:"bloqueado"`
		Remaining  int       `json:"intentosRestantes"`
		OperatorID string    `json:"operatorId"`
		Token      string    `json:"token"`
		ExpiresAt  time.Time `json:"expiresAt"`
		LeaseTTL   int64     `json:"leaseTTL"`
	}
	err := c.call(ctx, "validar_password_lector_qr", map[string]any{"password": password, "operatorId": operatorID}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.HTTPStatus == http.StatusUnauthorized || apiErr.HTTPStatus == http.StatusLocked) {
		if len(apiErr.Data) > 0 {
			_ = json.Unmarshal(apiErr.Data, &out)
		}
		return AuthResult{
			Locked:    out.Locked || apiErr.HTTPStatus == http.StatusLocked,
			Remaining: out.Remaining,
			Message:   apiErr.Message,
		}, nil
	}
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		Valid:      out.Valid,
		OperatorID: out.OperatorID,
		Token:      out.Token,
		ExpiresAt:  out.ExpiresAt,
		LeaseTTL:   time.Duration(out.LeaseTTL) * time.Second,
	}, nil
}

func (c *Client) LockStates(ctx context.Context) ([]ReaderStatus, error) {
	var out struct {
		Statuses []ReaderStatus `json:"statuses"`
	}
	if err := c.call(ctx, "get_lector_lock_states", nil, &out); err != nil {
		return nil, err
	}
	return out.Statuses, nil
}

func (c *Client) AcquireLock(ctx context.Context, readerID, operatorID string) error {
	return c.call(ctx, "lock_lector", map[string]any{"lectorId": readerID, "operatorId": operatorID}, nil)
}

func (c *Client) RefreshLock(ctx context.Context, readerID, operatorID string) error {
	return c.call(ctx, "refresh_lector_lock", map[string]any{"lectorId": readerID, "operatorId": operatorID}, nil)
}

func (c *Client) ReleaseLock(ctx context.Context, readerID string) error {
	return c.call(ctx, "unlock_lector", map[string]any{"lectorId": readerID}, nil)
}

func (c *Client) RemoteStatus(ctx context.Context) (RemoteStatus, error) {
	var out RemoteStatus
	err := c.call(ctx, "get_estado_lector_remoto", nil, &out)
	return out, err
}

func (c *Client) SubmitScan(ctx context.Context, readerID, operatorID, email string) (ScanResult, error) {
	var out ScanResult
	err := c.call(ctx, "process_scan", map[string]any{"lectorId": readerID, "operatorId": operatorID, "email": email}, &out)
	return out, err
}

// ReaderStatus is one entry of the reader selection screen.
type ReaderStatus struct {
	ID       string `json:"lectorId"`
	Name     string `json:"nombre"`
	Location string `json:"ubicacion"`
	IsLocked bool   `json:"isLocked"`
	LockedBy string `json:"lockedBy,omitempty"`
}

// RemoteStatus is the polled remote control state.
type RemoteStatus struct {
	Active           bool               `json:"activo"`
	State            model.ScannerState `json:"estado"`
	CameraFacingMode model.CameraFacing `json:"cameraFacingMode"`
	ScansToday       int64              `json:"escaneosHoy"`
}

// ScanningAllowed mirrors model.RemoteState.ScanningAllowed.
func (r RemoteStatus) ScanningAllowed() bool {
	return r.Active && r.State == model.StateActivo
}

// ScanResult is the backend answer to a recorded scan.
type ScanResult struct {
	Movement model.Movement `json:"movimiento"`
	Name     string         `json:"nombre"`
	Time     string         `json:"hora"`
	Date     string         `json:"fecha"`
}

// AuthResult is the outcome of a password check.
type AuthResult struct {
	Valid      bool
	Locked     bool
	Remaining  int
	Message    string
	OperatorID string
	Token      string
	ExpiresAt  time.Time
	LeaseTTL   time.Duration
}
