package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hargassner/hproxy/internal/bus"
)

func TestIncRelayDatagramOnlyCountsKnownDirections(t *testing.T) {
	c := New()
	c.IncRelayDatagram("gateway_inbound")
	c.IncRelayDatagram("gateway_inbound")
	c.IncRelayDatagram("not_a_direction")

	assert.EqualValues(t, 2, c.relayDatagrams["gateway_inbound"].Count())
}

func TestIncFrameDiscard(t *testing.T) {
	c := New()
	c.IncFrameDiscard()
	c.IncFrameDiscard()
	assert.EqualValues(t, 2, c.frameDiscards.Count())
}

func TestRunCountsSystemAndTrackEvents(t *testing.T) {
	c := New()
	b := bus.New(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, b, 20*time.Millisecond)
		close(done)
	}()

	// Give Run time to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)
	b.Publish(bus.ChannelSystem, bus.RestartRequested)
	b.Publish(bus.ChannelTrack, "frame")

	assert.Eventually(t, func() bool {
		return c.sessionsEnded.Count() == 1 && c.framesObserved.Count() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWatchQueueReportsDepthAndDrops(t *testing.T) {
	c := New()
	b := bus.New(2)
	q := b.Subscribe(bus.ChannelInfo, "watched")
	c.WatchQueue("info", q)

	b.Publish(bus.ChannelInfo, "a")
	b.Publish(bus.ChannelInfo, "b")
	b.Publish(bus.ChannelInfo, "c") // overflows the capacity-2 queue, dropping "a"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, b, 20*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return c.busQueueDepth["info"].Value() == 2 && c.busQueueDropped["info"].Value() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
