package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/realtime-client/internal/model"
	"github.com/rickgao/realtime-client/internal/realtime"
	"github.com/rickgao/realtime-client/internal/subscription"
	"github.com/rickgao/realtime-client/internal/version"
)

const disposeTimeout = 5 * time.Second

func runWatch(c *cli.Context) error {
	topics := c.Args().Slice()
	if len(topics) == 0 {
		return cli.Exit("watch needs at least one topic", 2)
	}

	cfg, err := loadConfig(cmdArgs)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting pushwatch",
		"version", version.Version,
		"commit", version.Commit,
		"stream_url", cfg.API.StreamURL,
		"topics", len(topics),
	)

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &lockedWriter{w: os.Stdout}
	err = watch(ctx, client, topics, out, c.Duration("stats-interval"), logger)

	disposeCtx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	if derr := client.Dispose(disposeCtx); derr != nil {
		logger.Warn("dispose failed", "error", derr)
	}
	return err
}

// watch subscribes to topics and prints notifications until ctx is done or the
// credentials expire.
func watch(ctx context.Context, client *realtime.Client, topics []string, out io.Writer, statsInterval time.Duration, logger *slog.Logger) error {
	inbox := subscription.NewInbox()
	defer inbox.Close()

	authExpired := make(chan error, 1)
	client.OnAuthExpired(func(err error) {
		select {
		case authExpired <- err:
		default:
		}
	})
	client.OnStateSync(func(topic string, events []model.Event) {
		for _, ev := range events {
			printStateSync(out, topic, ev)
		}
	})

	res, err := client.Subscribe(ctx, inbox, topics)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for topic, topicErr := range res.Errors {
		logger.Warn("topic rejected", "topic", topic, "status", topicErr.Status)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			ev, err := inbox.Next(gctx)
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, subscription.ErrInboxClosed) {
					return nil
				}
				return err
			}
			printEvent(out, ev)
		}
	})

	g.Go(func() error {
		select {
		case err := <-authExpired:
			return fmt.Errorf("stream credentials rejected: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	if statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					logStats(logger, client.Stats(), inbox.Stats())
				}
			}
		})
	}

	return g.Wait()
}

func runServerTime(c *cli.Context) error {
	cfg, err := loadConfig(cmdArgs)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Dispose(context.Background())

	if err := client.SyncClock(c.Context); err != nil {
		return fmt.Errorf("sync clock: %w", err)
	}
	now, ok := client.ServerTime()
	if !ok {
		return errors.New("no clock sample")
	}
	stats := client.Stats()
	fmt.Fprintf(c.App.Writer, "%s (offset %s)\n", now.UTC().Format(time.RFC3339Nano), stats.ClockOffset)
	return nil
}

type notification struct {
	Event   string          `json:"event"`
	Topic   string          `json:"topic,omitempty"`
	ID      string          `json:"id,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    any             `json:"data,omitempty"`
}

func printEvent(w io.Writer, ev subscription.Event) {
	n := notification{Event: string(ev.Name), Topic: ev.Topic}
	if ev.Message != nil {
		n.ID = ev.Message.ID
		n.Payload = ev.Message.Payload()
	}
	writeJSON(w, n)
}

func printStateSync(w io.Writer, topic string, ev model.Event) {
	writeJSON(w, notification{Event: "stateSync", Topic: topic, Kind: string(ev.Kind()), Data: ev})
}

func writeJSON(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
		return
	}
	w.Write(append(data, '\n'))
}

func logStats(logger *slog.Logger, s realtime.Stats, in subscription.InboxStats) {
	logger.Info("stats",
		"state", s.Connection.State.String(),
		"topics", s.Topics,
		"consecutive_errors", s.Connection.ConsecutiveErrors,
		"opens", s.Connection.Opens,
		"frames", s.Dispatch.FramesReceived,
		"messages", s.Dispatch.Messages,
		"parse_errors", s.Dispatch.ParseErrors,
		"pending", in.Pending,
		"clock_offset", s.ClockOffset,
	)
}

// lockedWriter serializes writes from the inbox reader and state sync handlers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
