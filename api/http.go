// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/switchboard/brain"
	"github.com/bureau-foundation/switchboard/lib/ref"
)

const maxBodySize = 1 << 20

// HandlerConfig configures the HTTP handler.
type HandlerConfig struct {
	Control Control

	// Heartbeat is the interval between SSE keep-alive comments.
	// Defaults to 15s.
	Heartbeat time.Duration

	Logger *slog.Logger
}

type handler struct {
	control   Control
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewHandler returns the HTTP API: JSON routes and the event stream
// under /api/v1, plus /healthz and /metrics.
func NewHandler(config HandlerConfig) http.Handler {
	if config.Control == nil {
		panic("api.NewHandler: Control is required")
	}
	h := &handler{
		control:   config.Control,
		heartbeat: config.Heartbeat,
		logger:    config.Logger,
	}
	if h.heartbeat == 0 {
		h.heartbeat = 15 * time.Second
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts", h.listAccounts)
		r.Post("/accounts", h.createAccount)
		r.Delete("/accounts/{id}", h.deactivateAccount)
		r.Post("/accounts/{id}/password", h.resetPassword)

		r.Get("/rooms", h.listRooms)
		r.Post("/rooms", h.createRoom)
		r.Post("/rooms/{id}/invite", h.inviteToRoom)
		r.Post("/rooms/{id}/force-join", h.forceJoinRoom)

		r.Get("/invitations", h.listInvitations)
		r.Post("/invitations/{id}/accept", h.acceptInvitation)
		r.Post("/invitations/{id}/reject", h.rejectInvitation)

		r.Get("/events", h.events)

		r.Route("/provision", func(r chi.Router) {
			r.Post("/preflight", h.preflight)
			r.Post("/configure", h.configure)
			r.Post("/pull", h.pull)
			r.Post("/start", h.start)
			r.Post("/verify", h.verify)
			r.Get("/status", h.provisionStatus)
		})
	})
	return router
}

// decodeBody decodes a JSON request body into v. An empty body leaves
// v unchanged.
func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathUserID parses the {id} URL parameter as a user ID.
func pathUserID(r *http.Request) (ref.UserID, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		return ref.UserID{}, err
	}
	return ref.ParseUserID(raw)
}

// pathRoomID parses the {id} URL parameter as a room ID.
func pathRoomID(r *http.Request) (ref.RoomID, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		return ref.RoomID{}, err
	}
	return ref.ParseRoomID(raw)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:             "ok",
		UserID:             h.control.UserID().String(),
		PendingInvitations: len(h.control.PendingInvitations()),
	})
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.control.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var request brain.CreateAccountRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	created, err := h.control.CreateAccount(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := h.control.DeactivateAccount(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resetPassword takes an optional {"password": ...} body; the account
// comes from the path.
func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var request brain.ResetPasswordRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	request.UserID = userID
	reset, err := h.control.ResetPassword(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reset)
}

func (h *handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.control.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var request brain.CreateRoomRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	roomID, err := h.control.CreateRoom(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: roomID})
}

func (h *handler) inviteToRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathRoomID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var request InviteRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := h.control.InviteToRoom(r.Context(), roomID, request.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) forceJoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathRoomID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var request InviteRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := h.control.ForceJoinRoom(r.Context(), roomID, request.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listInvitations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.control.PendingInvitations())
}

func (h *handler) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathRoomID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := h.control.AcceptInvitation(r.Context(), roomID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) rejectInvitation(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathRoomID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := h.control.RejectInvitation(r.Context(), roomID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) preflight(w http.ResponseWriter, r *http.Request) {
	result, err := h.control.RunPreflight(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) configure(w http.ResponseWriter, r *http.Request) {
	var request ConfigureRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := h.control.Configure(r.Context(), request.Params, provisionOptions(request))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) pull(w http.ResponseWriter, r *http.Request) {
	if err := h.control.Pull(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.control.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	var request VerifyRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := h.control.Verify(r.Context(), request.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) provisionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.control.ProvisionStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
