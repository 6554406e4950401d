package api

import (
	"errors"
	"net/http"

	"qrgate/internal/errs"
)

var statuses = []struct {
	err     error
	status  int
	message string
}{
	{errs.ErrInvalidArgument, http.StatusBadRequest, "Parámetros inválidos"},
	{errs.ErrUnknownAction, http.StatusBadRequest, "Acción no válida"},
	{errs.ErrUnauthorized, http.StatusUnauthorized, "Credenciales inválidas"},
	{errs.ErrForbidden, http.StatusForbidden, "Permisos insuficientes"},
	{errs.ErrUnknownIdentity, http.StatusNotFound, "Usuario no encontrado"},
	{errs.ErrNotFound, http.StatusNotFound, "No encontrado"},
	{errs.ErrLockConflict, http.StatusConflict, "Lector en uso por otro operador"},
	{errs.ErrLockNotHeld, http.StatusConflict, "El lector no está asignado a este operador"},
	{errs.ErrReaderLocked, http.StatusLocked, "Lector bloqueado por intentos fallidos"},
	{errs.ErrScannerDisabled, http.StatusServiceUnavailable, "Lector desactivado remotamente"},
}

// statusFor maps service errors onto the envelope: HTTP status, wire code
// and the message shown on terminals.
func statusFor(err error) (int, string, string) {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status, errs.Code(s.err), s.message
		}
	}
	return http.StatusInternalServerError, errs.Code(err), "Error interno"
}
