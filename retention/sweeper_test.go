package retention

import (
	"sync"
	"testing"
	"time"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/dispatcher"
)

type fakeLog struct {
	mu       sync.Mutex
	name     common.LogName
	pruned   int
	cutoffAt time.Time
}

func (f *fakeLog) Name() common.LogName { return f.name }

func (f *fakeLog) PruneDelivered(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned++
	f.cutoffAt = cutoff
	return 0
}

func (f *fakeLog) prunedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pruned
}

func TestSweeperCallsPruneDelivedPeriodically(t *testing.T) {
	var d dispatcher.Dispatcher
	d.Init(2, nil)
	defer d.Shutdown()

	log := &fakeLog{name: "log-a"}
	s := NewSweeper(&d, 10*time.Millisecond, time.Minute, 2*time.Millisecond, nil)
	s.Register(log)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for log.prunedCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if log.prunedCount() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", log.prunedCount())
	}
}
