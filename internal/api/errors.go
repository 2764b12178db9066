package api

import (
	"net/http"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/fan"
	"github.com/arqiarkaan/enviro-dashboard/internal/history"
	"github.com/arqiarkaan/enviro-dashboard/internal/settings"
)

const (
	ErrBadRequest       = errors.ErrorCode("api_bad_request")
	ErrMethodNotAllowed = errors.ErrorCode("api_method_not_allowed")
	ErrUpgrade          = errors.ErrorCode("api_upgrade_failed")
)

var statusByCode = []struct {
	code   errors.ErrorCode
	status int
}{
	{ErrBadRequest, http.StatusBadRequest},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed},
	{errors.ErrInvalidArgument, http.StatusBadRequest},
	{history.ErrInvalidWindow, http.StatusBadRequest},
	{settings.ErrUnknownField, http.StatusBadRequest},
	{history.ErrEmptyExport, http.StatusNotFound},
	{settings.ErrUpdate, http.StatusBadGateway},
	{fan.ErrSetMode, http.StatusBadGateway},
	{fan.ErrSetState, http.StatusBadGateway},
	{errors.ErrTimeout, http.StatusGatewayTimeout},
}

// httpStatus maps a coded error onto a response status
func httpStatus(err error) int {
	for _, m := range statusByCode {
		if errors.HasCode(err, m.code) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
