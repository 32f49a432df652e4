package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/enricher"
	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/metrics"
	"github.com/gosight/gosight/friction/internal/session"
)

// Result summarizes one dispatched batch
type Result struct {
	Accepted int
	Rejected int
	Errors   []string
}

// Dispatcher feeds normalized envelopes to sessions
type Dispatcher struct {
	sessions *session.Manager
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// NewDispatcher creates a dispatcher. clock may be nil.
func NewDispatcher(sessions *session.Manager, m *metrics.Metrics, clock func() time.Time) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		sessions: sessions,
		metrics:  m,
		clock:    clock,
	}
}

// DispatchBatch normalizes raw envelopes in order and feeds them to s.
// sentAt is the client send time of the batch in ms, zero when unknown.
func (d *Dispatcher) DispatchBatch(s *session.Session, raws []map[string]interface{}, sentAt int64, transport string) Result {
	return d.dispatch(s, raws, Timebase{ReceivedAt: d.clock(), SentAt: sentAt}, transport)
}

func (d *Dispatcher) dispatch(s *session.Session, raws []map[string]interface{}, base Timebase, transport string) Result {
	var res Result
	var events []friction.InputEvent
	flush := func() {
		if len(events) > 0 {
			s.Dispatch(events...)
			events = events[:0]
		}
	}

	for i, raw := range raws {
		item, err := Normalize(raw, base)
		if err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Sprintf("event %d: %v", i, err))
			if errors.Is(err, ErrUnknownType) {
				log.Debug().Err(err).Str("session_id", s.ID).Msg("Skipping event")
			} else {
				d.metrics.EventDropped()
			}
			continue
		}

		// Layouts apply between events so clicks see the tree they hit
		if item.Layout != nil {
			flush()
			s.ApplyLayout(*item.Layout)
		} else {
			events = append(events, *item.Event)
		}
		res.Accepted++
	}
	flush()

	d.metrics.EventsDispatched(transport, res.Accepted)
	return res
}

// Process handles one enriched event from the Kafka stream. The session is
// opened on demand from the envelope's metadata.
func (d *Dispatcher) Process(_ context.Context, raw map[string]interface{}) error {
	if !Supported(getString(raw, "type")) {
		return nil
	}
	sessionID := getString(raw, "session_id")
	if sessionID == "" {
		d.metrics.EventDropped()
		return errors.New("event has no session_id")
	}

	s, _, err := d.sessions.Open(sessionID, session.Meta{
		ProjectID: getString(raw, "project_id"),
		Client: enricher.Profile{
			Browser:        getString(raw, "browser"),
			BrowserVersion: getString(raw, "browser_version"),
			OS:             getString(raw, "os"),
			DeviceType:     getString(raw, "device_type"),
			Country:        getString(raw, "country"),
			City:           getString(raw, "city"),
		},
	})
	if err != nil {
		return fmt.Errorf("open session %s: %w", sessionID, err)
	}

	// Events arrive one at a time, so they are placed by their client
	// timestamp relative to the session's clock anchor.
	ts := getInt64(raw, "timestamp")
	base := Timebase{ReceivedAt: s.ClientTime(ts, d.clock()), SentAt: ts}
	res := d.dispatch(s, []map[string]interface{}{raw}, base, "kafka")
	if res.Rejected > 0 {
		return fmt.Errorf("session %s: %s", sessionID, res.Errors[0])
	}
	return nil
}
