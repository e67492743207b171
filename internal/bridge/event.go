package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind tags what an adapter reports.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventCodeFound
	EventError
	EventEnded
)

const nativeEventPrefix = "community.barcodescanner."

var eventNames = map[EventKind]string{
	EventStarted:   "started",
	EventCodeFound: "codefound",
	EventError:     "errorfound",
	EventEnded:     "ended",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "EventKind(" + strconv.Itoa(int(k)) + ")"
}

// NativeName returns the long event name used on native message channels.
func (k EventKind) NativeName() string {
	return nativeEventPrefix + k.String() + ".native"
}

// ParseEventKind accepts the short and the long native event names.
func ParseEventKind(s string) (EventKind, bool) {
	name := strings.TrimSpace(s)
	if strings.HasPrefix(name, nativeEventPrefix) && strings.HasSuffix(name, ".native") {
		name = strings.TrimSuffix(strings.TrimPrefix(name, nativeEventPrefix), ".native")
	}
	for k, n := range eventNames {
		if strings.EqualFold(n, name) {
			return k, true
		}
	}
	return 0, false
}

// Event is one message from an adapter. Payload is the JSON result for
// codefound and the verbatim reason for errorfound.
type Event struct {
	RequestID uint64
	Kind      EventKind
	Payload   string
}

// Started, CodeFound, Failed and Ended build events for session id.
func Started(id uint64) Event { return Event{RequestID: id, Kind: EventStarted} }

func CodeFound(id uint64, payload string) Event {
	return Event{RequestID: id, Kind: EventCodeFound, Payload: payload}
}

func Failed(id uint64, reason string) Event {
	return Event{RequestID: id, Kind: EventError, Payload: reason}
}

func Ended(id uint64) Event { return Event{RequestID: id, Kind: EventEnded} }

// EventSink receives adapter events. Emit must be safe to call from any
// goroutine, including from inside StartSession and StopSession.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// ParseMessage parses a wire message "<requestId> <eventName> <payload...>".
// The id and event name are separated by single spaces; everything after the
// second space is the payload, kept byte for byte.
func ParseMessage(msg string) (Event, error) {
	parts := strings.SplitN(strings.TrimRight(msg, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return Event{}, fmt.Errorf("bridge: malformed message %q", msg)
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("bridge: bad request id %q: %w", parts[0], err)
	}
	kind, ok := ParseEventKind(parts[1])
	if !ok {
		return Event{}, fmt.Errorf("bridge: unknown event %q", parts[1])
	}
	ev := Event{RequestID: id, Kind: kind}
	if len(parts) == 3 {
		ev.Payload = parts[2]
	}
	return ev, nil
}

// FormatMessage is the inverse of ParseMessage, using short event names.
func FormatMessage(ev Event) string {
	if ev.Payload == "" {
		return strconv.FormatUint(ev.RequestID, 10) + " " + ev.Kind.String()
	}
	return strconv.FormatUint(ev.RequestID, 10) + " " + ev.Kind.String() + " " + ev.Payload
}
