// Package retention implements O1, the optional instance-retention
// sweep: a paxos.Log keeps every instance it has ever created in
// memory, which is fine for a bounded demo but unbounded for a
// long-lived cluster. Sweeper periodically prunes delivered instances
// older than a retention window, grounded directly on
// txnengine/varmanager.go's ScheduleCallback/beat/beater pattern around
// a github.com/msackman/gotimerwheel.TimerWheel: a lazily-started
// beater goroutine wakes on a fixed tick and enqueues the actual wheel
// advance onto the owning object's own executor, exactly as
// vm.exe.Enqueue(vm.beat) does for varmanager -- every touch of the
// wheel and the beater-termination channel happens on that one
// goroutine, never from the beater goroutine or a caller directly.
package retention

import (
	"time"

	tw "github.com/msackman/gotimerwheel"

	"github.com/go-kit/kit/log"

	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/dispatcher"
)

// Prunable is the subset of *paxos.Log the sweeper needs; paxos is not
// imported directly so retention stays usable against anything shaped
// like a log.
type Prunable interface {
	Name() common.LogName
	PruneDelivered(cutoff time.Time) int
}

// Sweeper periodically calls PruneDelivered on every registered log.
// Each prune runs on that log's own Executor the way every other Log
// mutation does (see package dispatcher); the Sweeper's own bookkeeping
// (the timer wheel and the beater-termination channel) runs on a
// private Executor of its own, so Start/Stop and the beater goroutine
// never touch that state concurrently.
type Sweeper struct {
	dispatcher *dispatcher.Dispatcher
	interval   time.Duration
	retention  time.Duration
	tickPeriod time.Duration

	exe *dispatcher.Executor

	wheel            *tw.TimerWheel
	beaterTerminator chan struct{}
	logs             []Prunable
}

// NewSweeper constructs a Sweeper that, once Start is called, sweeps
// every registered log every interval, pruning instances older than
// retention. tickPeriod is the wheel's granularity, matching
// varmanager's 25ms default when zero.
func NewSweeper(d *dispatcher.Dispatcher, interval, retention, tickPeriod time.Duration, logger log.Logger) *Sweeper {
	if tickPeriod <= 0 {
		tickPeriod = 25 * time.Millisecond
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Sweeper{
		dispatcher: d,
		interval:   interval,
		retention:  retention,
		tickPeriod: tickPeriod,
		exe:        dispatcher.NewExecutor(log.With(logger, "component", "retention-sweeper")),
		wheel:      tw.NewTimerWheel(time.Now(), tickPeriod),
	}
}

// Register adds log to the set this sweeper prunes. Not safe to call
// concurrently with Start's ticking; register everything up front.
func (s *Sweeper) Register(log Prunable) {
	s.logs = append(s.logs, log)
}

// Start schedules the first sweep and, transitively through scheduleNext,
// every sweep after it until Stop is called.
func (s *Sweeper) Start() {
	s.exe.Enqueue(s.scheduleNext)
}

// scheduleNext and everything it calls (sweepAll, beat) runs only on
// s.exe; nothing outside this file's executor-bound functions touches
// s.wheel or s.beaterTerminator.
func (s *Sweeper) scheduleNext() {
	if err := s.wheel.ScheduleEventIn(s.interval, func() { s.exe.Enqueue(s.sweepAll) }); err != nil {
		panic(err)
	}
	if s.beaterTerminator == nil {
		s.beaterTerminator = make(chan struct{})
		go s.beatLoop(s.beaterTerminator)
	}
}

func (s *Sweeper) sweepAll() {
	cutoff := time.Now().Add(-s.retention)
	for _, l := range s.logs {
		l := l
		exe := s.dispatcher.ExecutorFor(l.Name())
		exe.Enqueue(func() { l.PruneDelivered(cutoff) })
	}
	s.scheduleNext()
}

// beatLoop only ever touches its own local terminate channel and s.exe,
// both safe without synchronization; it hands the actual wheel advance
// to beat, which runs on s.exe.
func (s *Sweeper) beatLoop(terminate chan struct{}) {
	for {
		time.Sleep(s.tickPeriod)
		select {
		case <-terminate:
			return
		default:
		}
		s.exe.Enqueue(s.beat)
	}
}

func (s *Sweeper) beat() {
	s.wheel.AdvanceTo(time.Now(), 32)
	if s.wheel.IsEmpty() {
		close(s.beaterTerminator)
		s.beaterTerminator = nil
	}
}

// Stop tears down the beater goroutine, if running, and shuts down the
// Sweeper's own executor. A Sweeper with no pending events stops itself
// already; Stop is for shutting down while sweeps are still scheduled.
func (s *Sweeper) Stop() {
	s.exe.EnqueueSync(func() {
		if s.beaterTerminator != nil {
			close(s.beaterTerminator)
			s.beaterTerminator = nil
		}
	})
	s.exe.Shutdown()
}
