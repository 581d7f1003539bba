package progress

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/platewise/internal/sse"
)

// AnalyzePath is the server route that streams an item's analysis.
const AnalyzePath = "/api/analyze"

// ChangeFunc receives every state transition of an item.
type ChangeFunc func(itemID uuid.UUID, s State)

// Consumer follows the analysis stream of a single item.
type Consumer struct {
	client   *http.Client
	baseURL  string
	token    string
	itemID   uuid.UUID
	onChange ChangeFunc
	logger   *slog.Logger
}

// NewConsumer creates a Consumer for itemID against the server at baseURL.
// token, when set, is sent as a bearer session token.
func NewConsumer(client *http.Client, baseURL, token string, itemID uuid.UUID, onChange ChangeFunc, logger *slog.Logger) *Consumer {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:   client,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		itemID:   itemID,
		onChange: onChange,
		logger:   logger.With("meal_item_id", itemID),
	}
}

// Run opens the stream and applies events until a terminal status, a failure
// or ctx cancellation, and returns the last state. Cancellation tears the
// stream down without reporting a transition.
func (c *Consumer) Run(ctx context.Context) State {
	state := Pending()

	req, err := c.newRequest(ctx)
	if err != nil {
		c.logger.Error("building analyze request", "error", err)
		return c.report(state, state.Fail())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return state
		}
		c.logger.Warn("analyze stream unreachable", "error", err)
		return c.report(state, state.Fail())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("analyze stream refused", "status", resp.StatusCode)
		return c.report(state, state.Fail())
	}

	dec := sse.NewDecoder(resp.Body, c.logger)
	for {
		f, err := dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return state
			}
			c.logger.Warn("analyze stream ended without a result", "error", err)
			return c.report(state, state.Fail())
		}

		state = c.report(state, state.Apply(f.Event))
		if state.Status.Terminal() {
			return state
		}
	}
}

func (c *Consumer) newRequest(ctx context.Context) (*http.Request, error) {
	u := fmt.Sprintf("%s%s?mealItemId=%s", c.baseURL, AnalyzePath, url.QueryEscape(c.itemID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Consumer) report(prev, next State) State {
	if next != prev && c.onChange != nil {
		c.onChange(c.itemID, next)
	}
	return next
}
