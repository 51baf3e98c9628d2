package health

import (
	"net/http"
	"sync"
	"time"

	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/syncer"
)

// RunStatus is the latest completed sync run for one tier.
type RunStatus struct {
	Tier       string `json:"tier"`
	Total      int    `json:"total"`
	Failed     int    `json:"failed"`
	Joined     int    `json:"joined,omitempty"`
	Departed   int    `json:"departed,omitempty"`
	Aborted    bool   `json:"aborted,omitempty"`
	Duration   string `json:"duration"`
	FinishedAt string `json:"finished_at"`
}

// SyncStatus observes the orchestrator and serves the most recent run
// per tier over HTTP.
type SyncStatus struct {
	mu    sync.RWMutex
	runs  map[string]RunStatus
	clock clock.Clock
}

// NewSyncStatus creates an empty status tracker.
func NewSyncStatus(clk clock.Clock) *SyncStatus {
	return &SyncStatus{runs: make(map[string]RunStatus), clock: clk}
}

// RunStarted implements syncer.Observer.
func (s *SyncStatus) RunStarted(string) {}

// MemberSynced implements syncer.Observer.
func (s *SyncStatus) MemberSynced(string, provider.Identity, error) {}

// RunFinished implements syncer.Observer.
func (s *SyncStatus) RunFinished(sum syncer.RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[sum.Tier] = RunStatus{
		Tier:       sum.Tier,
		Total:      sum.Total,
		Failed:     sum.Failed,
		Joined:     sum.Joined,
		Departed:   sum.Departed,
		Aborted:    sum.Aborted,
		Duration:   sum.Duration.String(),
		FinishedAt: s.clock.Now().UTC().Format(time.RFC3339),
	}
}

// Handler serves the latest run summaries as JSON.
func (s *SyncStatus) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.RLock()
		out := make([]RunStatus, 0, len(s.runs))
		for _, r := range s.runs {
			out = append(out, r)
		}
		s.mu.RUnlock()
		writeJSON(w, http.StatusOK, out)
	}
}
