package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"qrgate/internal/auth"
	"qrgate/internal/errs"
)

// Action names accepted on the envelope endpoint.
const (
	ActionValidatePassword = "validar_password_lector_qr"
	ActionChangePassword   = "cambiar_password_lector_qr"
	ActionSecurityStatus   = "get_estado_lector_qr"
	ActionLockStates       = "get_lector_lock_states"
	ActionLockReader       = "lock_lector"
	ActionRefreshLock      = "refresh_lector_lock"
	ActionUnlockReader     = "unlock_lector"
	ActionRemoteStatus     = "get_estado_lector_remoto"
	ActionControlRemote    = "control_lector_remoto"
	ActionProcessScan      = "process_scan"
	ActionActivity         = "get_activity"
	ActionFullLog          = "get_full_log"
	ActionLogin            = "login"
)

// Request is one decoded envelope. The set of implementations is closed.
type Request interface {
	// Action returns the wire name of the request.
	Action() string
	// access is the token tier required; "" means public.
	access() auth.Role
}

type (
	ValidatePasswordRequest struct {
		Password   string `json:"password"`
		OperatorID string `json:"operatorId"`
	}
	ChangePasswordRequest struct {
		NewPassword string     `json:"nuevaPassword"`
		User        actingUser `json:"user"`
	}
	SecurityStatusRequest struct{}
	LockStatesRequest     struct{}
	LockReaderRequest     struct {
		ReaderID   string `json:"lectorId"`
		OperatorID string `json:"operatorId"`
	}
	RefreshLockRequest struct {
		ReaderID   string `json:"lectorId"`
		OperatorID string `json:"operatorId"`
	}
	UnlockReaderRequest struct {
		ReaderID string `json:"lectorId"`
	}
	RemoteStatusRequest  struct{}
	ControlRemoteRequest struct {
		ControlAction string     `json:"controlAction"`
		Payload       flexJSON   `json:"payload"`
		User          actingUser `json:"user"`
	}
	ProcessScanRequest struct {
		ReaderID   string `json:"lectorId"`
		Email      string `json:"email"`
		OperatorID string `json:"operatorId"`
	}
	ActivityRequest struct {
		Email string `json:"email"`
		Limit int    `json:"limit"`
	}
	FullLogRequest struct {
		SchoolID string `json:"idEscuela"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
)

func (ValidatePasswordRequest) Action() string { return ActionValidatePassword }
func (ChangePasswordRequest) Action() string   { return ActionChangePassword }
func (SecurityStatusRequest) Action() string   { return ActionSecurityStatus }
func (LockStatesRequest) Action() string       { return ActionLockStates }
func (LockReaderRequest) Action() string       { return ActionLockReader }
func (RefreshLockRequest) Action() string      { return ActionRefreshLock }
func (UnlockReaderRequest) Action() string     { return ActionUnlockReader }
func (RemoteStatusRequest) Action() string     { return ActionRemoteStatus }
func (ControlRemoteRequest) Action() string    { return ActionControlRemote }
func (ProcessScanRequest) Action() string      { return ActionProcessScan }
func (ActivityRequest) Action() string         { return ActionActivity }
func (FullLogRequest) Action() string          { return ActionFullLog }
func (LoginRequest) Action() string            { return ActionLogin }

func (ValidatePasswordRequest) access() auth.Role { return "" }
func (LoginRequest) access() auth.Role            { return "" }
func (LockStatesRequest) access() auth.Role       { return auth.RoleOperator }
func (LockReaderRequest) access() auth.Role       { return auth.RoleOperator }
func (RefreshLockRequest) access() auth.Role      { return auth.RoleOperator }
func (UnlockReaderRequest) access() auth.Role     { return auth.RoleOperator }
func (RemoteStatusRequest) access() auth.Role     { return auth.RoleOperator }
func (ProcessScanRequest) access() auth.Role      { return auth.RoleOperator }
func (ActivityRequest) access() auth.Role         { return auth.RoleOperator }
func (ChangePasswordRequest) access() auth.Role   { return auth.RoleAdmin }
func (SecurityStatusRequest) access() auth.Role   { return auth.RoleAdmin }
func (ControlRemoteRequest) access() auth.Role    { return auth.RoleAdmin }
func (FullLogRequest) access() auth.Role          { return auth.RoleAdmin }

var decoders = map[string]func() Request{
	ActionValidatePassword: func() Request { return &ValidatePasswordRequest{} },
	ActionChangePassword:   func() Request { return &ChangePasswordRequest{} },
	ActionSecurityStatus:   func() Request { return &SecurityStatusRequest{} },
	ActionLockStates:       func() Request { return &LockStatesRequest{} },
	ActionLockReader:       func() Request { return &LockReaderRequest{} },
	ActionRefreshLock:      func() Request { return &RefreshLockRequest{} },
	ActionUnlockReader:     func() Request { return &UnlockReaderRequest{} },
	ActionRemoteStatus:     func() Request { return &RemoteStatusRequest{} },
	ActionControlRemote:    func() Request { return &ControlRemoteRequest{} },
	ActionProcessScan:      func() Request { return &ProcessScanRequest{} },
	ActionActivity:         func() Request { return &ActivityRequest{} },
	ActionFullLog:          func() Request { return &FullLogRequest{} },
	ActionLogin:            func() Request { return &LoginRequest{} },
}

// Decode reads {action, ...params} into the matching request type.
func Decode(body []byte) (Request, error) {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", errs.ErrInvalidArgument)
	}
	newReq, ok := decoders[strings.TrimSpace(head.Action)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", head.Action, errs.ErrUnknownAction)
	}
	req := newReq()
	if err := json.Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("%s parameters: %w", head.Action, errs.ErrInvalidArgument)
	}
	return req, nil
}

// flexJSON accepts a JSON value either inline or as a JSON-encoded string.
type flexJSON json.RawMessage

func (f *flexJSON) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = nil
			return nil
		}
		if !json.Valid([]byte(s)) {
			return fmt.Errorf("payload is not JSON")
		}
		*f = flexJSON(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}
	*f = append((*f)[:0], b...)
	return nil
}

// Into decodes the payload into v; an absent payload leaves v untouched.
func (f flexJSON) Into(v any) error {
	if len(f) == 0 {
		return nil
	}
	return json.Unmarshal(f, v)
}

// actingUser is the optional "user" parameter naming who performs an admin action.
type actingUser struct {
	Name  string `json:"nombre"`
	Email string `json:"email"`
}

func (u *actingUser) UnmarshalJSON(b []byte) error {
	var raw flexJSON
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	type plain actingUser
	var p plain
	if err := raw.Into(&p); err != nil {
		return err
	}
	*u = actingUser(p)
	return nil
}
