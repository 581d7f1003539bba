package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/platewise/internal/analyzer"
	mw "github.com/kiranshivaraju/platewise/internal/api/middleware"
	"github.com/kiranshivaraju/platewise/internal/api/response"
	"github.com/kiranshivaraju/platewise/internal/cache"
	"github.com/kiranshivaraju/platewise/internal/imagestore"
	"github.com/kiranshivaraju/platewise/internal/relay"
	"github.com/kiranshivaraju/platewise/internal/sse"
	"github.com/kiranshivaraju/platewise/internal/store"
)

const defaultMaxStreamDuration = 300 * time.Second

// StreamRelay forwards one analyzer stream to one client.
type StreamRelay interface {
	Run(ctx context.Context, itemID uuid.UUID, upstream io.Reader, sink relay.Sink) (relay.Outcome, error)
}

// AnalyzeDeps wires NewAnalyzeHandler.
type AnalyzeDeps struct {
	Meals    MealStore
	Images   ImageStore
	Locks    Locker
	Analyzer analyzer.Client
	Relay    StreamRelay

	// MaxStreamDuration bounds the analyzer call and the relay run together.
	MaxStreamDuration time.Duration
}

// NewAnalyzeHandler returns an http.HandlerFunc for GET /api/analyze?mealItemId=.
// After admission it answers with an event stream that mirrors the analyzer's
// progress events; the completed result is stored before the stream ends.
func NewAnalyzeHandler(d AnalyzeDeps) http.HandlerFunc {
	maxDur := d.MaxStreamDuration
	if maxDur <= 0 {
		maxDur = defaultMaxStreamDuration
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session", nil)
			return
		}

		raw := r.URL.Query().Get("mealItemId")
		if raw == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mealItemId is required", nil)
			return
		}
		itemID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mealItemId must be a valid UUID", nil)
			return
		}

		item, err := d.Meals.GetMealItem(r.Context(), itemID, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Meal item not found", nil)
			return
		}
		if err != nil {
			slog.Error("failed to load meal item", "meal_item_id", itemID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		if item.Analysis != nil {
			response.Error(w, http.StatusBadRequest, "ALREADY_ANALYZED", "Meal item has already been analyzed", nil)
			return
		}

		// The lock only narrows the window between the check above and the
		// insert; the unique constraint on the analysis table is the backstop.
		lockKey := cache.AnalysisLockKey(itemID)
		token, locked, err := d.Locks.AcquireLock(r.Context(), lockKey, maxDur)
		if err != nil {
			slog.Warn("analysis lock unavailable, continuing without it", "meal_item_id", itemID, "error", err)
		} else if !locked {
			response.Error(w, http.StatusConflict, "ANALYSIS_IN_PROGRESS", "Meal item is already being analyzed", nil)
			return
		}
		if locked {
			defer func() {
				if err := d.Locks.ReleaseLock(context.WithoutCancel(r.Context()), lockKey, token); err != nil {
					slog.Warn("failed to release analysis lock", "meal_item_id", itemID, "error", err)
				}
			}()
		}

		// A departed client must not abort parsing or persistence, so the run
		// is detached from the request and bounded on its own.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), maxDur)
		defer cancel()

		img, contentType, err := d.Images.Open(ctx, item.ImageName)
		if errors.Is(err, imagestore.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Meal item image not found", nil)
			return
		}
		if err != nil {
			slog.Error("failed to open meal item image", "meal_item_id", itemID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		upstream, err := d.Analyzer.AnalyzeStream(ctx, analyzer.Image{
			Name:        item.ImageName,
			ContentType: contentType,
			Body:        img,
		})
		img.Close()
		if err != nil {
			slog.Error("analyzer stream failed to start", "meal_item_id", itemID, "error", err)
			code, msg := "ANALYZER_UNAVAILABLE", "The analysis service is not available"
			if errors.Is(err, analyzer.ErrAnalyzerTimeout) {
				code, msg = "ANALYZER_TIMEOUT", "The analysis service did not respond in time"
			}
			response.Error(w, http.StatusBadGateway, code, msg, nil)
			return
		}
		defer upstream.Close()

		// The server-wide write timeout would cut long streams short.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			slog.Warn("could not lift write deadline", "error", err)
		}

		out, err := d.Relay.Run(ctx, itemID, upstream, sse.NewWriter(w))
		if err != nil {
			slog.Error("failed to persist analysis", "meal_item_id", itemID, "state", out.State.String(), "error", err)
		}
	}
}
