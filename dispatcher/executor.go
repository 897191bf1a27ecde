// Package dispatcher gives each Log exactly one goroutine to mutate its
// state on, satisfying §5's single-threaded-per-shard requirement even
// when one shard process hosts many named logs. It is built on the same
// chancell actor-loop idiom the teacher's network.Connection and
// network.ConnectionManager use: a rotating "cell" of buffered channels
// lets the loop shut down cleanly without a send-on-closed-channel race,
// which a bare channel-plus-mutex loop does not give you for free.
package dispatcher

import (
	cc "github.com/msackman/chancell"

	"github.com/go-kit/kit/log"
)

type execMsg func() (bool, error)

// Executor runs enqueued functions one at a time, in FIFO order, on a
// single goroutine.
type Executor struct {
	logger            log.Logger
	cellTail          *cc.ChanCellTail
	enqueueQueryInner func(execMsg, *cc.ChanCell, cc.CurCellConsumer) (bool, cc.CurCellConsumer)
	queryChan         <-chan execMsg
}

// NewExecutor starts the actor loop and returns immediately.
func NewExecutor(logger log.Logger) *Executor {
	e := &Executor{logger: logger}

	var head *cc.ChanCellHead
	head, e.cellTail = cc.NewChanCellTail(
		func(n int, cell *cc.ChanCell) {
			queryChan := make(chan execMsg, n)
			cell.Open = func() { e.queryChan = queryChan }
			cell.Close = func() { close(queryChan) }
			e.enqueueQueryInner = func(msg execMsg, curCell *cc.ChanCell, cont cc.CurCellConsumer) (bool, cc.CurCellConsumer) {
				if curCell == cell {
					select {
					case queryChan <- msg:
						return true, nil
					default:
						return false, nil
					}
				}
				return false, cont
			}
		})

	go e.actorLoop(head)
	return e
}

func (e *Executor) enqueue(msg execMsg) bool {
	var f cc.CurCellConsumer
	f = func(cell *cc.ChanCell) (bool, cc.CurCellConsumer) {
		return e.enqueueQueryInner(msg, cell, f)
	}
	return e.cellTail.WithCell(f)
}

// Enqueue runs fn on the executor goroutine, fire-and-forget. It returns
// false if the executor has already shut down.
func (e *Executor) Enqueue(fn func()) bool {
	return e.enqueue(func() (bool, error) {
		fn()
		return false, nil
	})
}

// EnqueueFuncAsync runs fn on the executor goroutine. If fn returns
// (true, _), the executor terminates after fn completes; a non-nil error
// is logged and also terminates the loop.
func (e *Executor) EnqueueFuncAsync(fn func() (bool, error)) bool {
	return e.enqueue(execMsg(fn))
}

// EnqueueSync runs fn on the executor goroutine and blocks the caller
// until it has completed.
func (e *Executor) EnqueueSync(fn func()) bool {
	done := make(chan struct{})
	ok := e.Enqueue(func() {
		fn()
		close(done)
	})
	if !ok {
		return false
	}
	select {
	case <-done:
	case <-e.cellTail.Terminated:
	}
	return true
}

// Shutdown requests the executor stop processing further work once its
// current queue drains, and waits for the loop to exit.
func (e *Executor) Shutdown() {
	e.EnqueueFuncAsync(func() (bool, error) { return true, nil })
	e.cellTail.Wait()
}

func (e *Executor) actorLoop(head *cc.ChanCellHead) {
	var (
		err       error
		queryChan <-chan execMsg
		queryCell *cc.ChanCell
	)
	chanFun := func(cell *cc.ChanCell) { queryChan, queryCell = e.queryChan, cell }
	head.WithCell(chanFun)

	terminate := false
	for !terminate {
		if msg, ok := <-queryChan; ok {
			terminate, err = msg()
		} else {
			head.Next(queryCell, chanFun)
		}
		terminate = terminate || err != nil
	}
	if err != nil && e.logger != nil {
		e.logger.Log("msg", "executor terminating on error", "error", err)
	}
	e.cellTail.Terminate()
}
