package lector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

// RemoteSettingKey is the settings row holding the serialized RemoteState.
const RemoteSettingKey = "lector_remote"

// ControlAction is one of the remote control commands.
type ControlAction string

const (
	ActionTogglePower   ControlAction = "toggle_power"
	ActionStart         ControlAction = "start"
	ActionPause         ControlAction = "pause"
	ActionStop          ControlAction = "stop"
	ActionSetCamera     ControlAction = "set_camera"
	ActionEmergencyStop ControlAction = "emergency_stop"
)

// ControlPayload carries the arguments of toggle_power and set_camera.
type ControlPayload struct {
	Active *bool              `json:"activo,omitempty"`
	Camera model.CameraFacing `json:"camera,omitempty"`
}

// RemoteControl stores the global scanning switch.
type RemoteControl struct {
	settings store.SettingsRepository
	log      *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// NewRemoteControl builds the switch over the settings table.
func NewRemoteControl(settings store.SettingsRepository, log *zap.Logger) *RemoteControl {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteControl{settings: settings, log: log, now: time.Now}
}

// Status returns the current switch, or the default when never set.
func (c *RemoteControl) Status(ctx context.Context) (model.RemoteState, error) {
	raw, ok, err := c.settings.GetSetting(ctx, RemoteSettingKey)
	if err != nil {
		return model.RemoteState{}, fmt.Errorf("load remote state: %w", err)
	}
	if !ok {
		return model.DefaultRemoteState(), nil
	}
	st := model.DefaultRemoteState()
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return model.RemoteState{}, fmt.Errorf("decode remote state: %w", err)
	}
	return st, nil
}

// Apply performs one control action. Actions are accepted whatever the
// current state is; only malformed payloads are rejected.
func (c *RemoteControl) Apply(ctx context.Context, action ControlAction, payload ControlPayload, changedBy string) (model.RemoteState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.Status(ctx)
	if err != nil {
		return model.RemoteState{}, err
	}
	switch action {
	case ActionTogglePower:
		if payload.Active == nil {
			return model.RemoteState{}, fmt.Errorf("toggle_power needs activo: %w", errs.ErrInvalidArgument)
		}
		st.Active = *payload.Active
	case ActionStart:
		st.State = model.StateActivo
	case ActionPause:
		st.State = model.StatePausado
	case ActionStop, ActionEmergencyStop:
		st.State = model.StateInactivo
	case ActionSetCamera:
		if payload.Camera != model.CameraEnvironment && payload.Camera != model.CameraUser {
			return model.RemoteState{}, fmt.Errorf("camera %q: %w", payload.Camera, errs.ErrInvalidArgument)
		}
		st.CameraFacingMode = payload.Camera
	default:
		return model.RemoteState{}, fmt.Errorf("control action %q: %w", action, errs.ErrUnknownAction)
	}
	st.LastChangedBy = changedBy
	st.LastChangedAt = c.now().UTC()

	raw, err := json.Marshal(st)
	if err != nil {
		return model.RemoteState{}, err
	}
	if err := c.settings.SetSetting(ctx, RemoteSettingKey, string(raw)); err != nil {
		return model.RemoteState{}, fmt.Errorf("save remote state: %w", err)
	}
	level := zap.InfoLevel
	if action == ActionEmergencyStop {
		level = zap.WarnLevel
	}
	c.log.Check(level, "remote control").Write(
		zap.String("action", string(action)),
		zap.String("by", changedBy),
		zap.Bool("active", st.Active),
		zap.String("state", string(st.State)),
	)
	return st, nil
}
