// Command platewatch follows the analysis of every photo in a meal and
// prints progress until the batch finishes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/platewise/internal/progress"
)

// errBatchIncomplete is returned when at least one item did not complete.
var errBatchIncomplete = errors.New("not every item was analyzed")

type options struct {
	server  string
	token   string
	mealID  uuid.UUID
	timeout time.Duration
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "platewatch:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("platewatch", flag.ContinueOnError)
	server := fs.String("server", envOr("PLATEWISE_SERVER", "http://localhost:8080"), "platewise server base URL")
	token := fs.String("token", os.Getenv("PLATEWISE_TOKEN"), "session token")
	meal := fs.String("meal", "", "meal ID to watch")
	timeout := fs.Duration("timeout", 0, "give up after this long (0 waits indefinitely)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if *meal == "" {
		return options{}, errors.New("-meal is required")
	}
	id, err := uuid.Parse(*meal)
	if err != nil {
		return options{}, fmt.Errorf("-meal must be a UUID: %w", err)
	}
	return options{
		server:  strings.TrimSuffix(*server, "/"),
		token:   *token,
		mealID:  id,
		timeout: *timeout,
	}, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	meal, err := fetchMeal(ctx, http.DefaultClient, opts)
	if err != nil {
		return err
	}

	var pending []uuid.UUID
	for _, it := range meal.Items {
		if it.Analysis == nil {
			pending = append(pending, it.ID)
		}
	}
	destination := "/meals/" + meal.Date

	if len(pending) == 0 {
		fmt.Fprintf(out, "All %d items already analyzed. Continue at %s\n", len(meal.Items), destination)
		return nil
	}
	fmt.Fprintf(out, "Watching %d of %d items in meal %s\n", len(pending), len(meal.Items), meal.ID)

	final, err := progress.Watch(ctx, pending, progress.WatchOptions{
		BaseURL: opts.server,
		Token:   opts.token,
		OnChange: func(id uuid.UUID, s progress.State) {
			fmt.Fprintf(out, "%s [%d/%d] %s\n", shortID(id), s.Step, progress.TotalSteps, s.Message)
		},
		OnComplete: func() {
			fmt.Fprintf(out, "All items analyzed. Continue at %s\n", destination)
		},
	})
	if err != nil {
		return fmt.Errorf("watch interrupted: %w", err)
	}

	for _, s := range final {
		if s.Status != progress.StatusCompleted {
			return errBatchIncomplete
		}
	}
	return nil
}

type mealResponse struct {
	ID    uuid.UUID `json:"id"`
	Date  string    `json:"date"`
	Items []struct {
		ID       uuid.UUID       `json:"id"`
		Analysis json.RawMessage `json:"analysis"`
	} `json:"items"`
}

func fetchMeal(ctx context.Context, client *http.Client, opts options) (*mealResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/meals/%s", opts.server, opts.mealID), nil)
	if err != nil {
		return nil, err
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch meal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&env)
		return nil, fmt.Errorf("fetch meal: status %d %s: %s", resp.StatusCode, env.Error.Code, env.Error.Message)
	}

	var env struct {
		Data mealResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode meal: %w", err)
	}
	meal := &env.Data
	for i := range meal.Items {
		if string(meal.Items[i].Analysis) == "null" {
			meal.Items[i].Analysis = nil
		}
	}
	return meal, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
