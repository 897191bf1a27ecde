package dispatcher

import (
	"hash/fnv"

	"github.com/go-kit/kit/log"

	"github.com/shardkv/consensuscore/common"
)

// Dispatcher owns a fixed pool of Executors and routes each LogName to
// exactly one of them, deterministically, for the lifetime of the
// process. This is what lets a single shard process host many logs
// while still giving each log's Instance/Proposer/Acceptor/Learner state
// the single-threaded access §5 requires: two different logs may run
// concurrently on different executors, but one log never runs on two.
type Dispatcher struct {
	Executors     []*Executor
	ExecutorCount uint8
}

// Init starts count executors. It must be called once before ExecutorFor.
func (d *Dispatcher) Init(count uint8, logger log.Logger) {
	d.ExecutorCount = count
	d.Executors = make([]*Executor, count)
	for i := range d.Executors {
		var execLogger log.Logger
		if logger != nil {
			execLogger = log.With(logger, "executor", i)
		}
		d.Executors[i] = NewExecutor(execLogger)
	}
}

// ExecutorFor returns the Executor owning name, stable across calls for
// a fixed ExecutorCount.
func (d *Dispatcher) ExecutorFor(name common.LogName) *Executor {
	return d.Executors[hashLogName(name)%uint32(d.ExecutorCount)]
}

// Shutdown stops every executor and waits for each to drain.
func (d *Dispatcher) Shutdown() {
	for _, e := range d.Executors {
		e.Shutdown()
	}
}

func hashLogName(name common.LogName) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}
