// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/switchboard/lib/ref"
)

// Intent labels what a router message asks for.
type Intent string

const (
	// IntentEnqueue puts work onto the queue room.
	IntentEnqueue Intent = "enqueue"

	// IntentProcess is the queue's signal that an item is ready to
	// be dispatched.
	IntentProcess Intent = "process"

	// IntentPrompt asks a worker to handle a request.
	IntentPrompt Intent = "prompt"

	// IntentPromptResponse is a worker's answer.
	IntentPromptResponse Intent = "prompt.response"

	// IntentError is a worker's failure report. It is routed back to
	// the origin like a response.
	IntentError Intent = "error"
)

// ContinuationAction says what the queue should do with an item.
type ContinuationAction string

const (
	ActionPrompt  ContinuationAction = "prompt"
	ActionDeliver ContinuationAction = "deliver"
)

// Continuation carries enough routing state through the queue for a
// worker's reply to reach the room the request came from.
type Continuation struct {
	Action      ContinuationAction `json:"action"`
	OriginRoom  ref.RoomID         `json:"origin_room"`
	OriginEvent ref.EventID        `json:"origin_event,omitzero"`

	// RequestID identifies one request end to end. Replies echo it.
	RequestID string `json:"request_id,omitempty"`

	// Returning is set on the way back from a worker.
	Returning bool `json:"returning,omitempty"`

	// WorkerRoom pins the worker that should receive a prompt. Empty
	// means the single known worker room.
	WorkerRoom ref.RoomID `json:"worker_room,omitzero"`
}

// Message content field names for the switchboard extensions.
const (
	FieldIntent  = "switchboard.intent"
	FieldPayload = "switchboard.payload"
)

// MessageContent is the content of an m.room.message event as
// switchboard sends it.
type MessageContent struct {
	MsgType string         `json:"msgtype"`
	Body    string         `json:"body"`
	Intent  Intent         `json:"switchboard.intent,omitempty"`
	Payload map[string]any `json:"switchboard.payload,omitempty"`
}

// NewTextMessage returns plain m.text content with no extensions.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeText, Body: body}
}

// PayloadWithContinuation returns a copy of payload with its
// continuation replaced. A nil payload yields a fresh one.
func PayloadWithContinuation(payload map[string]any, continuation Continuation) map[string]any {
	result := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		result[key] = value
	}
	result["continuation"] = continuation
	return result
}

// ContinuationFromPayload extracts the continuation from a payload
// decoded as generic JSON. The boolean is false when the payload has
// no continuation.
func ContinuationFromPayload(payload map[string]any) (Continuation, bool, error) {
	raw, ok := payload["continuation"]
	if !ok || raw == nil {
		return Continuation{}, false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Continuation{}, false, fmt.Errorf("re-encoding continuation: %w", err)
	}
	var continuation Continuation
	if err := json.Unmarshal(data, &continuation); err != nil {
		return Continuation{}, false, fmt.Errorf("decoding continuation: %w", err)
	}
	return continuation, true, nil
}
