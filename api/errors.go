// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bureau-foundation/switchboard/adminroom"
	"github.com/bureau-foundation/switchboard/brain"
	"github.com/bureau-foundation/switchboard/messaging"
	"github.com/bureau-foundation/switchboard/provision"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// classifyError maps an operation error to an HTTP status and a
// stable error code.
func classifyError(err error) (int, string) {
	var commandErr *adminroom.CommandError
	var matrixErr *messaging.MatrixError
	switch {
	case errors.Is(err, brain.ErrInvalidRequest), errors.Is(err, provision.ErrInvalidParams):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, brain.ErrNoInvitation):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, brain.ErrNoProvisioner):
		return http.StatusConflict, "provisioning_disabled"
	case errors.Is(err, provision.ErrNotConfigured):
		return http.StatusConflict, "not_configured"
	case errors.Is(err, provision.ErrIdentityChanged):
		return http.StatusConflict, "identity_changed"
	case errors.Is(err, provision.ErrHealthTimeout):
		return http.StatusGatewayTimeout, "health_timeout"
	case errors.Is(err, adminroom.ErrTimeout):
		return http.StatusGatewayTimeout, "command_timeout"
	case errors.Is(err, adminroom.ErrChannel):
		return http.StatusBadGateway, "command_channel"
	case errors.As(err, &commandErr):
		return http.StatusUnprocessableEntity, "command_failed"
	case errors.As(err, &matrixErr):
		switch matrixErr.Code {
		case messaging.ErrCodeForbidden:
			return http.StatusForbidden, "forbidden"
		case messaging.ErrCodeNotFound:
			return http.StatusNotFound, "not_found"
		}
		return http.StatusBadGateway, "homeserver_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: err.Error()}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Code: "bad_request", Message: message}})
}
