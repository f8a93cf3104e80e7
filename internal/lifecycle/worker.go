// Package lifecycle provides the cooperative-cancellation mixin shared
// by the long-running session components (the two UDP relays and
// TelnetProxy); the Orchestrator keeps its own stop flag. It collapses the teacher's ShutdownAware +
// ChanelReceiver mixin pair (spec.md §9) into one small embeddable
// struct with an explicit method set, rather than deep inheritance.
package lifecycle

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Worker is embedded by every component that runs its own goroutine
// and must react to a shutdown request within one loop tick (spec.md
// §5). It is the Go analogue of core.PluginRunState, stripped to the
// two things every component here actually needs: a join handle and a
// stop flag.
type Worker struct {
	wg      *sync.WaitGroup
	stopped atomic.Bool
}

// Bind attaches the waitgroup the orchestrator will join on and
// registers one worker slot, mirroring ConsumerBase.AddMainWorker.
func (w *Worker) Bind(wg *sync.WaitGroup) {
	w.wg = wg
	w.wg.Add(1)
}

// Done releases this worker's waitgroup slot. Safe to call at most
// once; components call it via defer immediately after Bind.
func (w *Worker) Done() {
	if w.wg != nil {
		w.wg.Done()
	}
}

// RequestStop raises the cooperative cancellation flag. Idempotent.
func (w *Worker) RequestStop() {
	w.stopped.Store(true)
}

// Stopped reports whether RequestStop has been called. Every blocking
// call in a component's loop must be bounded by a timeout so this is
// rechecked at least once per tick.
func (w *Worker) Stopped() bool {
	return w.stopped.Load()
}

// Guard runs fn in the calling goroutine, recovering any panic so a
// crashed worker still releases its waitgroup slot instead of hanging
// the orchestrator's bounded join. Grounded on the teacher's
// tgo.WithRecoverShutdown, used the same way around every
// Consume/Produce goroutine in coordinator.go.
func (w *Worker) Guard(log *logrus.Entry, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.Errorf("worker panic recovered: %v", r)
			}
		}
	}()
	fn()
}
