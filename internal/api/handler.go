// Package api exposes the gate over a single action envelope:
// POST /api/proxy {action, ...params} -> {status, message, data?}.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrgate/internal/attendance"
	"qrgate/internal/auth"
	"qrgate/internal/errs"
	"qrgate/internal/lector"
	"qrgate/internal/model"
	"qrgate/internal/security"
)

const maxBody = 64 << 10

// PasswordGate is the shared lector password.
type PasswordGate interface {
	Validate(ctx context.Context, password string) (security.Validation, error)
	ChangePassword(ctx context.Context, newPassword, changedBy string) error
	Status(ctx context.Context) (model.SecurityState, error)
}

// LockManager arbitrates reader leases.
type LockManager interface {
	States(ctx context.Context) ([]lector.LockState, error)
	Acquire(ctx context.Context, readerID, operatorID string) (model.ReaderLock, error)
	Refresh(ctx context.Context, readerID, operatorID string) (model.ReaderLock, error)
	Release(ctx context.Context, readerID string) error
	TTL() time.Duration
}

// RemoteSwitch is the remote control state.
type RemoteSwitch interface {
	Status(ctx context.Context) (model.RemoteState, error)
	Apply(ctx context.Context, action lector.ControlAction, payload lector.ControlPayload, changedBy string) (model.RemoteState, error)
}

// Recorder records scans and serves the attendance log.
type Recorder interface {
	SubmitScan(ctx context.Context, readerID, operatorID, identity string) (attendance.Result, error)
	Activity(ctx context.Context, identity string, limit int) ([]model.AttendanceEvent, error)
	FullLog(ctx context.Context, schoolID string, limit, offset int) ([]model.AttendanceEvent, error)
	Today() string
}

// DayCounter reads the per-day scan total.
type DayCounter interface {
	Day(ctx context.Context, date string) (int64, error)
}

// Authenticator checks administrator credentials.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (model.User, error)
}

// Deps are the services behind the envelope.
type Deps struct {
	Security   PasswordGate
	Locks      LockManager
	Remote     RemoteSwitch
	Attendance Recorder
	Stats      DayCounter
	Users      Authenticator
}

// TokenConfig signs the session tokens handed out by the envelope.
type TokenConfig struct {
	Issuer      string
	SigningKey  string
	OperatorTTL time.Duration
	AdminTTL    time.Duration
}

// Handler serves the envelope endpoint.
type Handler struct {
	deps   Deps
	tokens TokenConfig
	log    *zap.Logger
}

// NewHandler builds the envelope handler.
func NewHandler(deps Deps, tokens TokenConfig, log *zap.Logger) *Handler {
	if tokens.OperatorTTL <= 0 {
		tokens.OperatorTTL = 8 * time.Hour
	}
	if tokens.AdminTTL <= 0 {
		tokens.AdminTTL = 12 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{deps: deps, tokens: tokens, log: log}
}

// Register mounts the envelope under r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api", auth.Bearer(h.tokens.SigningKey, h.tokens.Issuer))
	g.POST("/proxy", h.proxy)
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// failure carries data that must reach the client alongside an error.
type failure struct {
	err  error
	data any
}

func (f *failure) Error() string { return f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

func (h *Handler) proxy(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		h.fail(c, "", fmt.Errorf("read body: %w", errs.ErrInvalidArgument))
		return
	}
	req, err := Decode(body)
	if err != nil {
		h.fail(c, "", err)
		return
	}

	claims, authed := auth.FromContext(c)
	if need := req.access(); need != "" {
		if !authed {
			h.fail(c, req.Action(), errs.ErrUnauthorized)
			return
		}
		if !claims.Role.Allows(need) {
			h.fail(c, req.Action(), errs.ErrForbidden)
			return
		}
	}

	msg, data, err := h.dispatch(c.Request.Context(), req, claims)
	if err != nil {
		h.fail(c, req.Action(), err)
		return
	}
	c.JSON(http.StatusOK, envelope{Status: "success", Message: msg, Data: data})
}

func (h *Handler) fail(c *gin.Context, action string, err error) {
	status, code, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("envelope action failed", zap.String("action", action), zap.Error(err))
	} else {
		h.log.Debug("envelope action rejected", zap.String("action", action), zap.Error(err))
	}
	env := envelope{Status: "error", Message: msg, Code: code}
	var f *failure
	if errors.As(err, &f) {
		env.Data = f.data
	}
	c.JSON(status, env)
}

// dispatch runs one request. Every Request implementation has a case.
func (h *Handler) dispatch(ctx context.Context, req Request, claims auth.Claims) (string, any, error) {
	switch r := req.(type) {
	case *ValidatePasswordRequest:
		return h.validatePassword(ctx, r)
	case *LoginRequest:
		return h.login(ctx, r)
	case *ChangePasswordRequest:
		return h.changePassword(ctx, r, claims)
	case *SecurityStatusRequest:
		return h.securityStatus(ctx)
	case *LockStatesRequest:
		states, err := h.deps.Locks.States(ctx)
		if err != nil {
			return "", nil, err
		}
		return "OK", gin.H{"statuses": redactHolders(states, claims)}, nil
	case *LockReaderRequest:
		op, err := operatorFor(claims, r.OperatorID)
		if err != nil {
			return "", nil, err
		}
		l, err := h.deps.Locks.Acquire(ctx, r.ReaderID, op)
		if err != nil {
			return "", nil, err
		}
		return "Lector asignado", l, nil
	case *RefreshLockRequest:
		op, err := operatorFor(claims, r.OperatorID)
		if err != nil {
			return "", nil, err
		}
		l, err := h.deps.Locks.Refresh(ctx, r.ReaderID, op)
		if err != nil {
			return "", nil, err
		}
		return "OK", l, nil
	case *UnlockReaderRequest:
		if err := h.deps.Locks.Release(ctx, r.ReaderID); err != nil {
			return "", nil, err
		}
		return "Lector liberado", nil, nil
	case *RemoteStatusRequest:
		return h.remoteStatus(ctx)
	case *ControlRemoteRequest:
		return h.controlRemote(ctx, r, claims)
	case *ProcessScanRequest:
		op, err := operatorFor(claims, r.OperatorID)
		if err != nil {
			return "", nil, err
		}
		res, err := h.deps.Attendance.SubmitScan(ctx, r.ReaderID, op, r.Email)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s registrada", res.Movement), res, nil
	case *ActivityRequest:
		events, err := h.deps.Attendance.Activity(ctx, r.Email, r.Limit)
		if err != nil {
			return "", nil, err
		}
		return "OK", gin.H{"registros": nonNil(events)}, nil
	case *FullLogRequest:
		events, err := h.deps.Attendance.FullLog(ctx, r.SchoolID, r.Limit, r.Offset)
		if err != nil {
			return "", nil, err
		}
		return "OK", gin.H{"log": nonNil(events)}, nil
	default:
		return "", nil, fmt.Errorf("%T: %w", req, errs.ErrUnknownAction)
	}
}

// redactHolders hides other operators' ids from operator tokens. Knowing an
// operator id is enough to log in as it, so only the holder and admins see it.
func redactHolders(states []lector.LockState, claims auth.Claims) []lector.LockState {
	if claims.Role == auth.RoleAdmin {
		return states
	}
	out := make([]lector.LockState, len(states))
	for i, st := range states {
		if st.LockedBy != claims.Subject {
			st.LockedBy = ""
		}
		out[i] = st
	}
	return out
}

func (h *Handler) validatePassword(ctx context.Context, r *ValidatePasswordRequest) (string, any, error) {
	v, err := h.deps.Security.Validate(ctx, r.Password)
	if err != nil {
		return "", nil, err
	}
	if !v.Valid {
		data := gin.H{"valido": false, "bloqueado": v.Locked, "intentosRestantes": v.Remaining}
		if v.Locked {
			return "", nil, &failure{err: errs.ErrReaderLocked, data: data}
		}
		return "", nil, &failure{err: errs.ErrUnauthorized, data: data}
	}

	op := strings.TrimSpace(r.OperatorID)
	if op == "" {
		op = "operator_" + uuid.NewString()
	}
	tok, err := auth.Issue(op, auth.RoleOperator, "", h.tokens.Issuer, h.tokens.SigningKey, h.tokens.OperatorTTL)
	if err != nil {
		return "", nil, fmt.Errorf("issue operator token: %w", err)
	}
	return "OK", gin.H{
		"valido":     true,
		"bloqueado":  false,
		"operatorId": op,
		"token":      tok.Value,
		"expiresAt":  tok.ExpiresAt.UTC(),
		"leaseTTL":   int64(h.deps.Locks.TTL() / time.Second),
	}, nil
}

func (h *Handler) login(ctx context.Context, r *LoginRequest) (string, any, error) {
	u, err := h.deps.Users.Login(ctx, r.Email, r.Password)
	if err != nil {
		return "", nil, err
	}
	tok, err := auth.Issue(u.Email, auth.RoleAdmin, u.Name, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AdminTTL)
	if err != nil {
		return "", nil, fmt.Errorf("issue admin token: %w", err)
	}
	return "Bienvenido", gin.H{"user": u, "token": tok.Value, "expiresAt": tok.ExpiresAt.UTC()}, nil
}

func (h *Handler) changePassword(ctx context.Context, r *ChangePasswordRequest, claims auth.Claims) (string, any, error) {
	if err := h.deps.Security.ChangePassword(ctx, r.NewPassword, actorName(r.User, claims)); err != nil {
		return "", nil, err
	}
	return "Contraseña actualizada", nil, nil
}

func (h *Handler) securityStatus(ctx context.Context) (string, any, error) {
	st, err := h.deps.Security.Status(ctx)
	if err != nil {
		return "", nil, err
	}
	estado := "OK"
	if st.Locked {
		estado = "Bloqueado"
	}
	status := gin.H{
		"estado":           estado,
		"bloqueado":        st.Locked,
		"intentosFallidos": st.FailedAttempts,
		"cambiadoPor":      st.LastChangedBy,
	}
	if !st.LastChangedAt.IsZero() {
		status["ultimoCambio"] = st.LastChangedAt
	}
	return "OK", gin.H{"status": status}, nil
}

func (h *Handler) remoteStatus(ctx context.Context) (string, any, error) {
	st, err := h.deps.Remote.Status(ctx)
	if err != nil {
		return "", nil, err
	}
	var today int64
	if h.deps.Stats != nil {
		today, err = h.deps.Stats.Day(ctx, h.deps.Attendance.Today())
		if err != nil {
			h.log.Warn("read scan counter", zap.Error(err))
		}
	}
	return "OK", gin.H{
		"activo":           st.Active,
		"estado":           st.State,
		"cameraFacingMode": st.CameraFacingMode,
		"escaneosHoy":      today,
	}, nil
}

func (h *Handler) controlRemote(ctx context.Context, r *ControlRemoteRequest, claims auth.Claims) (string, any, error) {
	var payload lector.ControlPayload
	if err := r.Payload.Into(&payload); err != nil {
		return "", nil, fmt.Errorf("payload: %w", errs.ErrInvalidArgument)
	}
	st, err := h.deps.Remote.Apply(ctx, lector.ControlAction(r.ControlAction), payload, actorName(r.User, claims))
	if err != nil {
		return "", nil, err
	}
	return "OK", st, nil
}

// operatorFor resolves the operator a request acts for. Operator tokens may
// only act as themselves; admin tokens may name any operator.
func operatorFor(claims auth.Claims, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if claims.Role == auth.RoleAdmin {
		if requested == "" {
			return claims.Subject, nil
		}
		return requested, nil
	}
	if requested != "" && requested != claims.Subject {
		return "", fmt.Errorf("operator %q: %w", requested, errs.ErrForbidden)
	}
	return claims.Subject, nil
}

func actorName(u actingUser, claims auth.Claims) string {
	for _, s := range []string{claims.Name, u.Name, claims.Subject, u.Email} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func nonNil(events []model.AttendanceEvent) []model.AttendanceEvent {
	if events == nil {
		return []model.AttendanceEvent{}
	}
	return events
}
