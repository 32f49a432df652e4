// Package ingest turns raw GoSight-style event envelopes into engine input
// and layout messages.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/page"
)

var (
	ErrUnknownType   = errors.New("unsupported event type")
	ErrMissingType   = errors.New("event type is required")
	ErrMissingTarget = errors.New("click target is required")
)

// Timebase maps client timestamps onto the server clock. SentAt is the
// client time (ms) at which the batch left the browser.
type Timebase struct {
	ReceivedAt time.Time
	SentAt     int64
}

// Rebase converts a client timestamp (ms) to server time. Without a send
// time the client clock cannot be trusted and the receive time is used.
func (b Timebase) Rebase(ts int64) time.Time {
	if ts <= 0 || b.SentAt <= 0 {
		return b.ReceivedAt
	}
	lag := time.Duration(b.SentAt-ts) * time.Millisecond
	if lag < 0 {
		lag = 0
	}
	return b.ReceivedAt.Add(-lag)
}

// Supported reports whether eventType feeds the engine or the document
func Supported(eventType string) bool {
	switch eventType {
	case "click", "pointer_down", "EVENT_TYPE_CLICK",
		"mouse_move", "pointer_move", "EVENT_TYPE_MOUSE_MOVE",
		"scroll", "EVENT_TYPE_SCROLL",
		"layout":
		return true
	}
	return false
}

// Item is one normalized envelope: exactly one of Event or Layout is set
type Item struct {
	Event  *friction.InputEvent
	Layout *page.Layout
}

// Normalize converts a raw envelope. Supports both simple and proto enum
// type names.
func Normalize(raw map[string]interface{}, base Timebase) (Item, error) {
	eventType := getString(raw, "type")
	if eventType == "" {
		return Item{}, ErrMissingType
	}
	payload, _ := raw["payload"].(map[string]interface{})
	at := base.Rebase(getInt64(raw, "timestamp"))

	switch eventType {
	case "click", "pointer_down", "EVENT_TYPE_CLICK":
		target := getString(payload, "target_id")
		if target == "" {
			target = getString(payload, "target")
		}
		// Targetless clicks would all share one identity
		if target == "" {
			return Item{}, ErrMissingTarget
		}
		return Item{Event: &friction.InputEvent{
			Kind:   friction.PointerDown,
			Target: friction.NodeID(target),
			X:      getFloat64(payload, "x"),
			Y:      getFloat64(payload, "y"),
			Time:   at,
		}}, nil

	case "mouse_move", "pointer_move", "EVENT_TYPE_MOUSE_MOVE":
		x, okX := lookupFloat64(payload, "mouse_x")
		y, okY := lookupFloat64(payload, "mouse_y")
		if !okX || !okY {
			x, y = getFloat64(payload, "x"), getFloat64(payload, "y")
		}
		return Item{Event: &friction.InputEvent{
			Kind: friction.PointerMove,
			X:    x,
			Y:    y,
			Time: at,
		}}, nil

	case "scroll", "EVENT_TYPE_SCROLL":
		return Item{Event: &friction.InputEvent{
			Kind: friction.Scroll,
			X:    getFloat64(payload, "scroll_x"),
			Y:    getFloat64(payload, "scroll_y"),
			Time: at,
		}}, nil

	case "layout":
		l, err := decodeLayout(payload)
		if err != nil {
			return Item{}, err
		}
		return Item{Layout: &l}, nil
	}

	return Item{}, fmt.Errorf("%w: %s", ErrUnknownType, eventType)
}

func decodeLayout(payload map[string]interface{}) (page.Layout, error) {
	var l page.Layout
	if payload == nil {
		return l, errors.New("layout payload is required")
	}
	// Round-trip through JSON so node fields decode with their tags
	data, err := json.Marshal(payload)
	if err != nil {
		return l, fmt.Errorf("encode layout payload: %w", err)
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("decode layout payload: %w", err)
	}
	return l, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func lookupFloat64(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func getFloat64(m map[string]interface{}, key string) float64 {
	v, _ := lookupFloat64(m, key)
	return v
}
