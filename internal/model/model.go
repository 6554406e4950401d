// Package model holds the domain types shared by services, stores and the API.
package model

import (
	"strings"
	"time"
)

// Movement classifies an attendance event.
type Movement string

const (
	Entrada Movement = "Entrada"
	Salida  Movement = "Salida"
)

// NextMovement applies the alternation rule: an even number of prior events
// for the day means the next one is an entrance.
func NextMovement(prior int) Movement {
	if prior%2 == 0 {
		return Entrada
	}
	return Salida
}

// AttendanceEvent is one entry of the append-only attendance log.
type AttendanceEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Date        string    `json:"fecha"`
	Time        string    `json:"hora"`
	Identity    string    `json:"email"`
	DisplayName string    `json:"nombre"`
	Role        string    `json:"rol"`
	Movement    Movement  `json:"movimiento"`
	ReaderID    string    `json:"lectorId"`
	SchoolID    string    `json:"idEscuela"`
}

// Role values used by the user directory.
const (
	RoleAlumno         = "Alumno"
	RoleTutor          = "Tutor"
	RoleDocente        = "Docente"
	RoleDirector       = "Director"
	RoleAdministrativo = "Administrativo"
)

// IsAdminRole reports whether a directory role may operate the admin controls.
func IsAdminRole(role string) bool {
	return role == RoleDirector || role == RoleAdministrativo
}

// User is a directory entry resolvable from a badge identity.
type User struct {
	Email        string    `json:"email"`
	Name         string    `json:"nombre"`
	Role         string    `json:"rol"`
	SchoolID     string    `json:"idEscuela"`
	PasswordHash string    `json:"-"`
	CURP         string    `json:"curp,omitempty"`
	Grade        string    `json:"grado,omitempty"`
	Group        string    `json:"grupo,omitempty"`
	Shift        string    `json:"turno,omitempty"`
	CreatedAt    time.Time `json:"-"`
}

// NormalizeEmail lowercases and trims an identity for lookups.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Reader is a scanning station from the reader catalog.
type Reader struct {
	ID       string `json:"lectorId"`
	Name     string `json:"nombre"`
	Location string `json:"ubicacion"`
}

// ReaderLock is the lease row of one reader.
type ReaderLock struct {
	ReaderID  string    `json:"lectorId"`
	IsLocked  bool      `json:"isLocked"`
	LockedBy  string    `json:"lockedBy"`
	LockedAt  time.Time `json:"lockedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Held reports whether the lease is live at now.
func (l ReaderLock) Held(now time.Time) bool {
	return l.IsLocked && (l.ExpiresAt.IsZero() || now.Before(l.ExpiresAt))
}

// ScannerState is the remote scanning mode.
type ScannerState string

const (
	StateActivo   ScannerState = "activo"
	StatePausado  ScannerState = "pausado"
	StateInactivo ScannerState = "inactivo"
)

// CameraFacing selects the terminal camera.
type CameraFacing string

const (
	CameraEnvironment CameraFacing = "environment"
	CameraUser        CameraFacing = "user"
)

// RemoteState is the process-wide remote control switch.
type RemoteState struct {
	Active           bool         `json:"activo"`
	State            ScannerState `json:"estado"`
	CameraFacingMode CameraFacing `json:"cameraFacingMode"`
	LastChangedBy    string       `json:"cambiadoPor,omitempty"`
	LastChangedAt    time.Time    `json:"ultimoCambio,omitempty"`
}

// DefaultRemoteState is used before any control action was issued.
func DefaultRemoteState() RemoteState {
	return RemoteState{Active: true, State: StateActivo, CameraFacingMode: CameraEnvironment}
}

// ScanningAllowed is true only for an active switch in the activo state.
func (s RemoteState) ScanningAllowed() bool {
	return s.Active && s.State == StateActivo
}

// SecurityState is the shared lector password gate.
type SecurityState struct {
	PasswordHash   string    `json:"passwordHash"`
	FailedAttempts int       `json:"failedAttempts"`
	Locked         bool      `json:"locked"`
	LastChangedBy  string    `json:"lastChangedBy,omitempty"`
	LastChangedAt  time.Time `json:"lastChangedAt,omitempty"`
}
