package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/insight-engine/internal/metrics"
)

// staleDiagnostic goes into the transcription field of demoted records, in
// the same shape as any other pipeline failure.
const staleDiagnostic = "Processing failed: processing interrupted before completion"

// StaleStore is the persistence surface the reconciler needs.
type StaleStore interface {
	DemoteStaleProcessing(ctx context.Context, olderThan time.Duration, diagnostic, fallbackSummary string) (int64, error)
}

// Reconciler demotes records stuck in processing to failed. A record can
// only get stuck when the process dies mid-job, so the reconciler runs once
// at startup for crash recovery and then periodically to catch anything a
// peer instance leaves behind.
type Reconciler struct {
	store      StaleStore
	staleAfter time.Duration
	interval   time.Duration
	log        zerolog.Logger
	stop       chan struct{}
}

// NewReconciler creates a reconciler. staleAfter must comfortably exceed the
// longest legitimate job duration or in-flight work gets demoted under it.
func NewReconciler(store StaleStore, staleAfter, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		staleAfter: staleAfter,
		interval:   interval,
		log:        log.With().Str("component", "stale-reconciler").Logger(),
		stop:       make(chan struct{}),
	}
}

func (r *Reconciler) Start() { go r.loop() }
func (r *Reconciler) Stop()  { close(r.stop) }

func (r *Reconciler) loop() {
	r.reconcile()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

func (r *Reconciler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := r.store.DemoteStaleProcessing(ctx, r.staleAfter, staleDiagnostic, fallbackSummary)
	if err != nil {
		r.log.Error().Err(err).Msg("stale reconcile failed")
		return
	}
	if n > 0 {
		metrics.StaleInsightsDemotedTotal.Add(float64(n))
		r.log.Warn().Int64("demoted", n).Dur("stale_after", r.staleAfter).Msg("demoted stale processing records")
	}
}
