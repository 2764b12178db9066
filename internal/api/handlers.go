package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/history"
	"github.com/arqiarkaan/enviro-dashboard/internal/settings"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

type historyResponse struct {
	Window int           `json:"window"`
	Label  string        `json:"label"`
	Rows   []history.Row `json:"rows"`
}

type settingsResponse struct {
	Patch map[string]any `json:"patch"`
}

type fanModeRequest struct {
	Manual *bool `json:"manual"`
}

type fanStateRequest struct {
	On *bool `json:"on"`
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"feed":   s.dash.Started(),
	})
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Status())
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.window(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows, err := s.dash.History(n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []history.Row{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Window: int(n),
		Label:  n.Label(),
		Rows:   rows,
	})
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	n, err := s.window(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.dash.Export(n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Body)
}

// window reads the window query parameter, falling back to the configured
// default
func (s *server) window(r *http.Request) (history.SampleCount, error) {
	q := r.URL.Query().Get("window")
	if q == "" {
		return s.dash.DefaultWindow(), nil
	}
	return history.ParseSampleCount(q)
}

func (s *server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	edit, err := editFromBody(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	patch, err := s.dash.UpdateSettings(r.Context(), edit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Patch: patch})
}

// editFromBody accepts each field as a JSON string or number. Strings go
// through the same lenient parse as form input.
func editFromBody(body map[string]json.RawMessage) (settings.Edit, error) {
	edit := make(settings.Edit, len(body))
	for k, raw := range body {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			var num json.Number
			if err := json.Unmarshal(raw, &num); err != nil {
				return nil, errors.New().WithData(ErrBadRequest, k)
			}
			text = num.String()
		}
		edit[settings.Field(k)] = text
	}
	return edit, nil
}

func (s *server) handleFanMode(w http.ResponseWriter, r *http.Request) {
	var req fanModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Manual == nil {
		s.writeError(w, r, errors.New().WithMessage(ErrBadRequest, "manual is required"))
		return
	}

	if err := s.dash.SetFanMode(r.Context(), *req.Manual); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleFanState(w http.ResponseWriter, r *http.Request) {
	var req fanStateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.On == nil {
		s.writeError(w, r, errors.New().WithMessage(ErrBadRequest, "on is required"))
		return
	}

	if err := s.dash.SetFanState(r.Context(), *req.On); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, errors.New().WithData(ErrMethodNotAllowed, r.Method))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New().Wrap(ErrBadRequest, err)
	}
	return nil
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", r.Header.Get(requestIDHeader)).
			Msg("Request failed")
	} else {
		s.log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}

	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Code:      string(errors.CodeOf(err)),
		RequestID: r.Header.Get(requestIDHeader),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
