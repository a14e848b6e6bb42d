// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bureau-foundation/switchboard/fanout"
	"github.com/bureau-foundation/switchboard/syncengine"
)

// events streams the hub as Server-Sent Events. Each event is written
// as "event: <kind>" with the JSON payload as data. A subscriber the
// hub drops for falling behind receives a final "dropped" event; the
// client reconnects and re-reads state.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Code: "internal_error", Message: "streaming unsupported",
		}})
		return
	}

	subscription := h.control.SubscribeEvents()
	defer subscription.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-subscription.Events():
			if !open {
				fmt.Fprint(w, "event: dropped\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			if err := writeEvent(w, event); err != nil {
				h.logger.Warn("encoding event for stream", "kind", event.Kind, "error", err)
				continue
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event fanout.Event) error {
	var payload any
	switch event.Kind {
	case fanout.KindInvitations:
		invitations := event.Invitations
		if invitations == nil {
			invitations = []syncengine.Invitation{}
		}
		payload = invitations
	case fanout.KindMessage:
		payload = event.Message
	default:
		payload = event
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
