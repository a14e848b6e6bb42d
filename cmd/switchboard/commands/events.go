// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/fanout"
	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/syncengine"
)

// errStreamDropped is returned when the daemon drops this subscriber
// for falling behind.
var errStreamDropped = errors.New("event stream dropped by the daemon; reconnect to resume")

func defaultAPIAddress() string {
	if address := os.Getenv("SWITCHBOARD_API"); address != "" {
		return address
	}
	return "http://127.0.0.1:8420"
}

func eventsCommand() *cli.Command {
	var (
		apiAddress string
		output     cli.JSONOutput
	)
	return &cli.Command{
		Name:    "events",
		Summary: "Stream invitations and messages as the daemon sees them",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("events", pflag.ContinueOnError)
			flagSet.StringVar(&apiAddress, "api", defaultAPIAddress(), "daemon HTTP API address (default $SWITCHBOARD_API)")
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			err := streamEvents(ctx, http.DefaultClient, apiAddress, func(event streamEvent) error {
				if output.OutputJSON {
					return cli.WriteJSON(map[string]any{"event": event.Kind, "data": json.RawMessage(event.Data)})
				}
				return printEvent(event)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

// streamEvent is one Server-Sent Event.
type streamEvent struct {
	Kind string
	Data []byte
}

// streamEvents connects to the event stream and calls handle for each
// event until ctx ends, the stream closes, or handle fails.
func streamEvents(ctx context.Context, client *http.Client, apiAddress string, handle func(streamEvent) error) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiAddress, "/")+"/api/v1/events", nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", apiAddress, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: %s: %s", response.Status, strings.TrimSpace(netutil.ErrorBody(response.Body)))
	}
	return readEvents(response.Body, handle)
}

// readEvents parses an event stream. Comment lines are skipped; data
// lines within one event are joined with newlines.
func readEvents(reader io.Reader, handle func(streamEvent) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		kind string
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if kind == "" && len(data) == 0 {
				continue
			}
			event := streamEvent{Kind: kind, Data: []byte(strings.Join(data, "\n"))}
			if event.Kind == "" {
				event.Kind = "message"
			}
			kind, data = "", nil
			if event.Kind == "dropped" {
				return errStreamDropped
			}
			if err := handle(event); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func printEvent(event streamEvent) error {
	switch fanout.Kind(event.Kind) {
	case fanout.KindMessage:
		var message syncengine.Message
		if err := json.Unmarshal(event.Data, &message); err != nil {
			return fmt.Errorf("decoding message event: %w", err)
		}
		intent := ""
		if message.Intent != "" {
			intent = " [" + string(message.Intent) + "]"
		}
		fmt.Fprintf(cli.Stdout, "%s %s %s%s: %s\n",
			message.Timestamp.Local().Format("15:04:05"), message.RoomID, message.Sender, intent, message.Body)
	case fanout.KindInvitations:
		var invitations []syncengine.Invitation
		if err := json.Unmarshal(event.Data, &invitations); err != nil {
			return fmt.Errorf("decoding invitations event: %w", err)
		}
		fmt.Fprintf(cli.Stdout, "invitations: %d pending\n", len(invitations))
		for _, invitation := range invitations {
			fmt.Fprintf(cli.Stdout, "  %s %s\n", invitation.RoomID, invitation.RoomName)
		}
	default:
		fmt.Fprintf(cli.Stdout, "%s: %s\n", event.Kind, event.Data)
	}
	return nil
}
