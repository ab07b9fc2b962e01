package election

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCompactor struct {
	calls   int32
	dropped int
}

func (f *fakeCompactor) CompactExpired(retention time.Duration) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.dropped, nil
}

func TestHousekeeperRunsCompactionOnSchedule(t *testing.T) {
	fc := &fakeCompactor{dropped: 2}
	h := NewHousekeeper(10*time.Millisecond, time.Hour, fc)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	h.Run(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&fc.calls), int32(3))
}

func TestHousekeeperStopEndsLoop(t *testing.T) {
	fc := &fakeCompactor{}
	h := NewHousekeeper(5*time.Millisecond, time.Hour, fc)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	h.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("housekeeper did not stop")
	}
}
