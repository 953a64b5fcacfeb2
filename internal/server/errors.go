package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/timvw/park-patrol/internal/model"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Description string `json:"error_description,omitempty"`
	Raw         string `json:"raw,omitempty"`
}

// statusFor maps a failure to an HTTP status by its kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; nginx's convention.
		return 499
	case errors.Is(err, model.ErrUnknownSelector):
		return http.StatusBadRequest
	}
	switch model.KindOf(err) {
	case model.KindDomain:
		return http.StatusUnprocessableEntity
	case model.KindConfiguration:
		return http.StatusServiceUnavailable
	case model.KindTransport, model.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into a JSON error envelope. Errors outside the
// taxonomy omit their description.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: string(model.KindOf(err))}

	var e *model.Error
	var c *model.Code
	switch {
	case errors.As(err, &e):
		resp.Code = e.Err.Error()
		resp.Description = e.Detail
		if k := e.Err.Kind(); k == model.KindParse || k == model.KindTransport {
			resp.Raw = e.Raw
		}
	case errors.As(err, &c):
		resp.Code = c.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		resp.Error = "canceled"
		resp.Description = err.Error()
	default:
		resp.Error = "internal_error"
	}
	writeJSON(w, status, resp)
}

// badRequest writes a 400 with a description.
func badRequest(w http.ResponseWriter, description string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Description: description})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
