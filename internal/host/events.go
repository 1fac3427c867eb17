package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownEvent is returned by Decode for event names it does not know.
var ErrUnknownEvent = errors.New("unknown host event")

// Event names emitted by the host.
const (
	EventSetupStarted        = "setup-started"
	EventSetupProgress       = "setup-progress"
	EventSetupComplete       = "setup-complete"
	EventSetupError          = "setup-error"
	EventDownloadProgress    = "download-progress"
	EventDownloadComplete    = "download-complete"
	EventDownloadError       = "download-error"
	EventDownloadCancelled   = "download-cancelled"
	EventConversionProgress  = "conversion-progress"
	EventConversionComplete  = "conversion-complete"
	EventConversionError     = "conversion-error"
	EventConversionCancelled = "conversion-cancelled"
)

// Event is the raw envelope as it arrives from the host.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Record is a decoded, typed host event.
type Record interface {
	EventName() string
}

type SetupStarted struct{}

type SetupProgress struct {
	Percentage float64
}

type SetupComplete struct{}

type SetupError struct {
	Message string
}

// DownloadProgress fields other than Percent are nil when the host did not
// send them.
type DownloadProgress struct {
	Percent float64
	Size    *string
	Speed   *string
	ETA     *string
}

type DownloadComplete struct{}

type DownloadError struct {
	Message string
}

type DownloadCancelled struct {
	Reason string
}

type ConversionProgress struct {
	Percent float64
}

type ConversionComplete struct {
	TargetPath string
}

type ConversionError struct {
	Message string
}

type ConversionCancelled struct{}

func (SetupStarted) EventName() string        { return EventSetupStarted }
func (SetupProgress) EventName() string       { return EventSetupProgress }
func (SetupComplete) EventName() string       { return EventSetupComplete }
func (SetupError) EventName() string          { return EventSetupError }
func (DownloadProgress) EventName() string    { return EventDownloadProgress }
func (DownloadComplete) EventName() string    { return EventDownloadComplete }
func (DownloadError) EventName() string       { return EventDownloadError }
func (DownloadCancelled) EventName() string   { return EventDownloadCancelled }
func (ConversionProgress) EventName() string  { return EventConversionProgress }
func (ConversionComplete) EventName() string  { return EventConversionComplete }
func (ConversionError) EventName() string     { return EventConversionError }
func (ConversionCancelled) EventName() string { return EventConversionCancelled }

// Decode normalizes a raw event into its typed record. Progress payloads
// may be a bare number or an object; error payloads may be a bare string or
// an object with a message.
func Decode(ev Event) (Record, error) {
	switch ev.Name {
	case EventSetupStarted:
		return SetupStarted{}, nil
	case EventSetupComplete:
		return SetupComplete{}, nil
	case EventDownloadComplete:
		return DownloadComplete{}, nil
	case EventConversionCancelled:
		return ConversionCancelled{}, nil

	case EventSetupProgress:
		p, err := decodePercent(ev.Data, "percentage")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		return SetupProgress{Percentage: p}, nil

	case EventConversionProgress:
		p, err := decodePercent(ev.Data, "progress")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		return ConversionProgress{Percent: p}, nil

	case EventDownloadProgress:
		return decodeDownloadProgress(ev.Data)

	case EventSetupError:
		msg, err := decodeMessage(ev.Data, "message")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		return SetupError{Message: msg}, nil
	case EventDownloadError:
		msg, err := decodeMessage(ev.Data, "message")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		return DownloadError{Message: msg}, nil
	case EventConversionError:
		msg, err := decodeMessage(ev.Data, "message")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		return ConversionError{Message: msg}, nil

	case EventDownloadCancelled:
		reason, err := decodeMessage(ev.Data, "reason")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		return DownloadCancelled{Reason: reason}, nil

	case EventConversionComplete:
		path, err := decodeMessage(ev.Data, "targetPath")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		return ConversionComplete{TargetPath: path}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Name)
}

func isEmpty(data json.RawMessage) bool {
	t := bytes.TrimSpace(data)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// number accepts a JSON number or a numeric string such as "42.5%".
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*n = number(f)
	return nil
}

func decodePercent(data json.RawMessage, field string) (float64, error) {
	if isEmpty(data) {
		return 0, nil
	}
	var n number
	if err := n.UnmarshalJSON(data); err == nil {
		return float64(n), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return 0, fmt.Errorf("unexpected payload %s", data)
	}
	raw, ok := obj[field]
	if !ok {
		return 0, nil
	}
	if err := n.UnmarshalJSON(raw); err != nil {
		return 0, err
	}
	return float64(n), nil
}

func decodeDownloadProgress(data json.RawMessage) (Record, error) {
	if isEmpty(data) {
		return DownloadProgress{}, nil
	}
	var n number
	if err := n.UnmarshalJSON(data); err == nil {
		return DownloadProgress{Percent: float64(n)}, nil
	}

	var payload struct {
		Progress *number `json:"progress"`
		Percent  *number `json:"percent"`
		Size     *string `json:"size"`
		Speed    *string `json:"speed"`
		ETA      *string `json:"eta"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%s: %w", EventDownloadProgress, err)
	}
	rec := DownloadProgress{Size: payload.Size, Speed: payload.Speed, ETA: payload.ETA}
	switch {
	case payload.Progress != nil:
		rec.Percent = float64(*payload.Progress)
	case payload.Percent != nil:
		rec.Percent = float64(*payload.Percent)
	}
	return rec, nil
}

func decodeMessage(data json.RawMessage, field string) (string, error) {
	if isEmpty(data) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("unexpected payload %s", data)
	}
	raw, ok := obj[field]
	if !ok {
		return "", nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %s: %w", field, err)
	}
	return s, nil
}

// NewEvent builds an envelope from any JSON-encodable payload. A nil
// payload produces an event without data.
func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}
