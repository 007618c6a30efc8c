// Package remote turns an external command stream into controller triggers
// and publishes the bookkeeping tags that accompany each frame.
//
// Commands arrive either as MQTT messages on per-event topics or as HTTP
// POSTs.  Both feed Dispatch.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// Command is one of the triggers understood by the controller
type Command int

const (
	// RequestImage sends one frame of the current screen
	RequestImage Command = iota

	// RequestCalibration starts a calibration ramp
	RequestCalibration

	// RequestSequence starts a measurement sequence
	RequestSequence

	// Stop cancels the running sequence
	Stop
)

// event names, as used on the signaling relay of the reference pages
var events = map[Command]string{
	RequestImage:       "image_request",
	RequestCalibration: "calib_request",
	RequestSequence:    "sequence_request",
	Stop:               "stop_request",
}

// Commands lists every command in order
func Commands() []Command {
	return []Command{RequestImage, RequestCalibration, RequestSequence, Stop}
}

// Event is the wire name of the command
func (c Command) Event() string {
	return events[c]
}

func (c Command) String() string {
	if e, ok := events[c]; ok {
		return e
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommand maps an event name to its Command
func ParseCommand(event string) (Command, error) {
	event = strings.ToLower(strings.TrimSpace(event))
	for c, name := range events {
		if name == event {
			return c, nil
		}
	}
	return 0, fmt.Errorf("remote: unknown event %q", event)
}

// Handler is the set of triggers a command can fire
type Handler interface {
	RequestImage(context.Context) error
	StartCalibration() error
	StartMeasurement() error
	Stop()
}

// Dispatch fires the trigger for cmd
func Dispatch(ctx context.Context, h Handler, cmd Command) error {
	switch cmd {
	case RequestImage:
		return h.RequestImage(ctx)
	case RequestCalibration:
		return h.StartCalibration()
	case RequestSequence:
		return h.StartMeasurement()
	case Stop:
		h.Stop()
		return nil
	default:
		return fmt.Errorf("remote: unknown command %d", int(cmd))
	}
}
