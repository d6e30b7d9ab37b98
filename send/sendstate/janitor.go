package db

import (
	"context"
	"os"
	"syscall"
	"time"

	"crawshaw.io/sqlite/sqlitex"
)

// Janitor periodically reaps backgrounded editor/crypto processes
// (§4.9) whose parent has restarted since they were forked, and
// sweeps any BackgroundEdits row whose process is no longer alive so
// a crashed child doesn't wedge its SCTX in StateBackgrounded forever.
type Janitor struct {
	Logf func(format string, v ...interface{})

	ctx      context.Context
	cancelFn func()
	done     chan struct{}

	pool     *sqlitex.Pool
	cleanNow chan struct{}
}

func NewJanitor(pool *sqlitex.Pool) *Janitor {
	ctx, cancelFn := context.WithCancel(context.Background())
	j := &Janitor{
		Logf:     func(format string, v ...interface{}) {},
		ctx:      ctx,
		cancelFn: cancelFn,
		done:     make(chan struct{}),
		pool:     pool,
		cleanNow: make(chan struct{}),
	}
	return j
}

func (j *Janitor) CleanNow() {
	select {
	case j.cleanNow <- struct{}{}:
	default:
	}
}

func (j *Janitor) Run() error {
	defer close(j.done)

	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-j.ctx.Done():
			return nil
		case <-t.C:
		case <-j.cleanNow:
		}

		if err := j.clean(); err != nil {
			if err == context.Canceled {
				return nil
			}
			return nil
		}
	}
}

func (j *Janitor) Shutdown(ctx context.Context) error {
	j.cancelFn()
	<-j.done
	return nil
}

func (j *Janitor) clean() error {
	start := time.Now()

	conn := j.pool.Get(j.ctx)
	if conn == nil {
		return context.Canceled
	}
	defer j.pool.Put(conn)

	var reaped int
	edits, err := PendingBackgroundEdits(conn)
	if err != nil {
		j.Logf("%s", Log{Where: "janitor", What: "pending_edits", When: start, Err: err})
		return nil
	}
	for _, be := range edits {
		if processAlive(be.PID) {
			continue
		}
		if err := ClearBackgroundEdit(conn, be.PID); err != nil {
			j.Logf("%s", Log{Where: "janitor", What: "clear_edit", When: start, Err: err})
			continue
		}
		reaped++
	}

	l := Log{
		Where:    "janitor",
		What:     "cleanup",
		When:     start,
		Duration: time.Since(start),
		Data: map[string]interface{}{
			"edits_reaped": reaped,
		},
	}
	j.Logf("%s", l)
	return nil
}

// processAlive reports whether pid is still running, using signal 0
// per the standard kill(2) liveness check; it does not distinguish a
// live process owned by another user from one that has exited.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
