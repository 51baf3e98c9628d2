// Package notify posts sync alerts to a Discord channel. Delivery is
// fire-and-forget: a failed or suppressed notification is logged and
// never fails the sync run that raised it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/config"
)

// session is the slice of discordgo the notifier needs.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Open() error
	Close() error
}

// Notifier posts alerts to one channel, capped by a sliding-window
// budget so a flapping provider cannot flood the guild officers.
type Notifier struct {
	session   session
	channelID string
	logger    *slog.Logger
	clock     clock.Clock
	wg        sync.WaitGroup

	mu     sync.Mutex
	window time.Duration
	max    int
	sent   []time.Time
}

// New creates a Notifier from the notification config. It does not open
// the Discord connection; call Start.
func New(cfg config.NotificationsConfig, logger *slog.Logger, clk clock.Clock) (*Notifier, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return newWithSession(s, cfg, logger, clk), nil
}

func newWithSession(s session, cfg config.NotificationsConfig, logger *slog.Logger, clk clock.Clock) *Notifier {
	return &Notifier{
		session:   s,
		channelID: cfg.ChannelID,
		logger:    logger,
		clock:     clk,
		window:    cfg.Window,
		max:       cfg.MaxPerWindow,
	}
}

// Start opens the Discord connection.
func (n *Notifier) Start() error {
	if err := n.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}
	return nil
}

// Stop waits for in-flight sends and closes the Discord connection.
func (n *Notifier) Stop() error {
	n.wg.Wait()
	return n.session.Close()
}

// BatchErrors reports an enrichment run whose failure count crossed the
// alert threshold.
func (n *Notifier) BatchErrors(ctx context.Context, tier string, failed, total int) {
	n.post(ctx, fmt.Sprintf("⚠️ %s sync finished with %d/%d members failing", tier, failed, total))
}

// CriticalFailure reports a run that could not proceed at all, such as a
// roster fetch or authentication failure.
func (n *Notifier) CriticalFailure(ctx context.Context, tier string, err error) {
	n.post(ctx, fmt.Sprintf("🚨 %s sync aborted: %v", tier, err))
}

// post charges the budget synchronously and dispatches the send on its
// own goroutine so a slow gateway never stalls the sync loop.
func (n *Notifier) post(ctx context.Context, content string) {
	if !n.allow() {
		n.logger.WarnContext(ctx, "notification suppressed, budget exhausted",
			slog.String("content", content))
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if _, err := n.session.ChannelMessageSend(n.channelID, content); err != nil {
			n.logger.ErrorContext(ctx, "sending notification",
				slog.String("channel", n.channelID), slog.Any("error", err))
		}
	}()
}

// allow checks and charges the sliding-window budget.
func (n *Notifier) allow() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := n.clock.Now().Add(-n.window)
	kept := n.sent[:0]
	for _, ts := range n.sent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	n.sent = kept

	if len(n.sent) >= n.max {
		return false
	}
	n.sent = append(n.sent, n.clock.Now())
	return true
}
