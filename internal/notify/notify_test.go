package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/guildsync/internal/config"
)

type fakeSession struct {
	mu       sync.Mutex
	messages []string
	sendErr  error
	block    chan struct{}
}

func (f *fakeSession) ChannelMessageSend(_, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.block != nil {
		<-f.block
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeSession) Open() error  { return nil }
func (f *fakeSession) Close() error { return nil }

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

func newTestNotifier(s *fakeSession, clk *stepClock, max int, window time.Duration) *Notifier {
	cfg := config.NotificationsConfig{
		ChannelID:    "chan-1",
		MaxPerWindow: max,
		Window:       window,
	}
	return newWithSession(s, cfg, slog.Default(), clk)
}

func TestBatchErrors_SendsMessage(t *testing.T) {
	s := &fakeSession{}
	n := newTestNotifier(s, &stepClock{t: time.Now()}, 3, 15*time.Minute)

	n.BatchErrors(context.Background(), "enrichment", 7, 40)
	n.wg.Wait()

	if got := s.sent(); len(got) != 1 {
		t.Fatalf("messages = %d, want 1", len(got))
	}
}

func TestPost_DoesNotBlockCaller(t *testing.T) {
	s := &fakeSession{block: make(chan struct{})}
	n := newTestNotifier(s, &stepClock{t: time.Now()}, 3, 15*time.Minute)

	done := make(chan struct{})
	go func() {
		n.CriticalFailure(context.Background(), "discovery", errors.New("roster unreachable"))
		close(done)
	}()

	// The caller returns while the gateway send is still hanging.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notification dispatch blocked the caller")
	}

	close(s.block)
	n.wg.Wait()
	if got := s.sent(); len(got) != 1 {
		t.Fatalf("messages = %d, want 1 after the send completed", len(got))
	}
}

func TestPost_BudgetSuppressesFlood(t *testing.T) {
	s := &fakeSession{}
	clk := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	n := newTestNotifier(s, clk, 2, 15*time.Minute)

	for i := 0; i < 5; i++ {
		n.CriticalFailure(context.Background(), "discovery", errors.New("roster unreachable"))
	}
	n.wg.Wait()
	if got := s.sent(); len(got) != 2 {
		t.Fatalf("messages = %d, want the budget's 2", len(got))
	}

	// The window slides: once it passes, alerts flow again.
	clk.t = clk.t.Add(16 * time.Minute)
	n.CriticalFailure(context.Background(), "discovery", errors.New("roster unreachable"))
	n.wg.Wait()
	if got := s.sent(); len(got) != 3 {
		t.Fatalf("messages = %d, want 3 after the window passed", len(got))
	}
}

func TestPost_SendFailureIsSwallowed(t *testing.T) {
	s := &fakeSession{sendErr: errors.New("gateway down")}
	n := newTestNotifier(s, &stepClock{t: time.Now()}, 3, 15*time.Minute)

	// Must not panic or propagate; the sync run goes on regardless.
	n.BatchErrors(context.Background(), "enrichment", 6, 50)
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
