// Package relay bridges one analyzer stream to one client stream and records
// the analysis result once the analyzer reports completion.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/platewise/internal/sse"
	"github.com/kiranshivaraju/platewise/pkg/models"
)

const persistTimeout = 10 * time.Second

// State is the lifecycle position of a single relay run.
type State int

const (
	StateStarted State = iota
	StateStreaming
	StateFinalizingWithResult
	StateFinalizingNoResult
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateFinalizingWithResult:
		return "finalizing_with_result"
	case StateFinalizingNoResult:
		return "finalizing_no_result"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Sink receives forwarded event payloads. sse.Writer is the production sink.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// Persister stores the record of a completed analysis.
type Persister interface {
	CreateMealItemAnalysis(ctx context.Context, a *models.MealItemAnalysis) error
}

// Outcome summarises a finished run.
type Outcome struct {
	State        State
	Events       int
	Forwarded    int
	Dropped      int
	ReceiverGone bool
	Persisted    bool
	Analysis     *models.MealItemAnalysis
	UpstreamErr  error
}

// Option configures a Relay.
type Option func(*Relay)

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(from, to State)) Option {
	return func(r *Relay) { r.observe = fn }
}

// Relay forwards analyzer events and persists the completed result.
// A Relay is stateless between runs and may be shared by concurrent requests.
type Relay struct {
	persister Persister
	logger    *slog.Logger
	observe   func(from, to State)
}

// New creates a Relay.
func New(p Persister, logger *slog.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{persister: p, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run streams upstream into sink for itemID until upstream ends. Each decoded
// event is forwarded with its original encoding; a failing sink is treated as
// a departed client and parsing carries on so that a completed result is still
// recorded. If a completed event with a result was seen, exactly one record is
// persisted before the sink is closed. The returned error is non-nil only when
// persistence failed.
func (r *Relay) Run(ctx context.Context, itemID uuid.UUID, upstream io.Reader, sink Sink) (Outcome, error) {
	logger := r.logger.With("meal_item_id", itemID)
	out := Outcome{State: StateStarted}
	r.transition(&out, StateStreaming)

	dec := sse.NewDecoder(upstream, logger)
	var captured *models.AnalysisResult

	for {
		f, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				out.UpstreamErr = err
				logger.Warn("analyzer stream ended abnormally", "error", err)
			}
			break
		}
		out.Events++

		if !out.ReceiverGone {
			if err := sink.Send(f.Data); err != nil {
				out.ReceiverGone = true
				logger.Info("client disconnected, draining analyzer stream", "error", err)
			} else {
				out.Forwarded++
			}
		}

		if f.Event.Status == models.EventStatusCompleted && f.Event.Result != nil {
			if captured != nil {
				logger.Warn("analyzer sent more than one completed event, keeping the latest")
			}
			captured = f.Event.Result
		}
	}
	out.Dropped = dec.Dropped()

	var persistErr error
	if captured != nil {
		r.transition(&out, StateFinalizingWithResult)
		persistErr = r.persist(ctx, itemID, *captured, &out)
	} else {
		r.transition(&out, StateFinalizingNoResult)
	}

	// Close is idempotent and its failure means the client is already gone.
	_ = sink.Close()
	r.transition(&out, StateClosed)

	logger.Info("relay finished",
		"events", out.Events,
		"forwarded", out.Forwarded,
		"dropped", out.Dropped,
		"receiver_gone", out.ReceiverGone,
		"persisted", out.Persisted,
	)
	return out, persistErr
}

func (r *Relay) persist(ctx context.Context, itemID uuid.UUID, res models.AnalysisResult, out *Outcome) error {
	// The request context may already be cancelled by a departed client or an
	// expired stream deadline; the write still gets its own budget.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	rec := models.NewMealItemAnalysis(itemID, res)
	if err := r.persister.CreateMealItemAnalysis(pctx, rec); err != nil {
		return fmt.Errorf("persisting analysis for %s: %w", itemID, err)
	}
	out.Persisted = true
	out.Analysis = rec
	return nil
}

func (r *Relay) transition(out *Outcome, to State) {
	from := out.State
	out.State = to
	if r.observe != nil {
		r.observe(from, to)
	}
}
