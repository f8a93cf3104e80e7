package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/hargassner/hproxy/internal/config"
)

// fakeWorker is a minimal worker stand-in so teardown can be tested
// without binding real sockets.
type fakeWorker struct {
	runFor    time.Duration
	stopAfter bool // only exit once RequestStop has been observed
	stopped   bool
}

func (f *fakeWorker) Run(wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()
	if f.stopAfter {
		for !f.stopped {
			time.Sleep(time.Millisecond)
		}
		return
	}
	time.Sleep(f.runFor)
}

func (f *fakeWorker) RequestStop() {
	f.stopped = true
}

func TestReturnAfterCompletesWithinTimeout(t *testing.T) {
	done := make(chan struct{})
	go func() {
		close(done)
	}()
	ok := returnAfter(time.Second, func() { <-done })
	assert.True(t, ok)
}

func TestReturnAfterReportsFalseOnBlockingCallback(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	ok := returnAfter(20*time.Millisecond, func() { <-block })
	assert.False(t, ok)
}

func TestTeardownJoinsWithinBudget(t *testing.T) {
	o := New(config.Config{Tick: 10 * time.Millisecond}, logrus.NewEntry(logrus.New()), nil)

	w := &fakeWorker{stopAfter: true}
	var wg sync.WaitGroup
	go w.Run(&wg)
	time.Sleep(time.Millisecond) // let Run register with the waitgroup

	o.teardown([]worker{w}, &wg)
	assert.True(t, w.stopped)
}

func TestTeardownLogsWhenWorkerIgnoresStop(t *testing.T) {
	o := New(config.Config{Tick: time.Millisecond}, logrus.NewEntry(logrus.New()), nil) // budget is 10ms total

	w := &fakeWorker{runFor: time.Second} // never checks RequestStop
	var wg sync.WaitGroup
	go w.Run(&wg)
	time.Sleep(time.Millisecond)

	start := time.Now()
	o.teardown([]worker{w}, &wg)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "teardown must not block past its budget")
}

func TestStopPreventsFurtherSessions(t *testing.T) {
	o := &Orchestrator{}
	assert.False(t, o.stopped())
	o.Stop()
	assert.True(t, o.stopped())
}

func TestDefaultParameterQueriesMatchVendorBatch(t *testing.T) {
	queries := defaultParameterQueries()
	assert.Len(t, queries, 6)
	assert.Equal(t, "$par get PR001\r\n", string(queries[0]))
	assert.Equal(t, "$par get 5\r\n", string(queries[5]))
}
