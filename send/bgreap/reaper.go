// Package bgreap implements the index side of the background editor
// (§4.9): polling for exited detached child processes and dispatching
// their SCTX back to the compose controller. It is grounded on
// spilldb/processor's ticker-driven scan loop (coalesced wake-up
// channel, context+cancelFn+done shutdown triple, WaitGroup fan-out
// over a batch) — the same idiom, retargeted from "scan for messages
// ready to process" to "scan for background edits whose child has
// exited."
package bgreap

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"crawshaw.io/sqlite/sqlitex"

	db "mailcore.dev/send/sendstate"
)

// Resume is called once per background edit whose process has exited,
// so the caller can re-enter the compose controller (or the
// appropriate resume state) for that edit's StagingID. Cancellation
// (the user killing the child out of band) reaps the same way; the
// compose controller is responsible for the mtime check that decides
// whether the edit actually changed anything.
type Resume func(edit db.BackgroundEdit)

// Reaper polls the sendstate BackgroundEdits table rather than
// blocking on a direct wait4 of each child, since the process that
// forked a child may not be the one running when it's time to reap it
// (a restart in between) — the registry survives where an in-memory
// handle wouldn't.
type Reaper struct {
	ctx      context.Context
	cancelFn func()
	done     chan struct{}

	pool   *sqlitex.Pool
	resume Resume
	wake   chan struct{}
}

func New(pool *sqlitex.Pool, resume Resume) *Reaper {
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Reaper{
		ctx:      ctx,
		cancelFn: cancelFn,
		done:     make(chan struct{}),
		pool:     pool,
		resume:   resume,
		wake:     make(chan struct{}, 1),
	}
}

// Wake schedules an immediate scan instead of waiting for the next
// tick; it's safe to call from any goroutine and never blocks.
func (r *Reaper) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reaper) Shutdown(ctx context.Context) {
	r.cancelFn()
	<-r.done
}

func (r *Reaper) Run() error {
	defer close(r.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}

		edits, err := r.collect()
		if err != nil {
			if err == context.Canceled {
				return nil
			}
			continue
		}

		var wg sync.WaitGroup
		for _, edit := range edits {
			wg.Add(1)
			go func(edit db.BackgroundEdit) {
				defer wg.Done()
				r.reap(edit)
			}(edit)
		}
		wg.Wait()
	}
}

func (r *Reaper) collect() ([]db.BackgroundEdit, error) {
	conn := r.pool.Get(r.ctx)
	if conn == nil {
		return nil, context.Canceled
	}
	defer r.pool.Put(conn)
	return db.PendingBackgroundEdits(conn)
}

func (r *Reaper) reap(edit db.BackgroundEdit) {
	if processAlive(edit.PID) {
		return
	}

	conn := r.pool.Get(r.ctx)
	if conn == nil {
		return
	}
	defer r.pool.Put(conn)

	if err := db.ClearBackgroundEdit(conn, edit.PID); err != nil {
		return
	}
	if r.resume != nil {
		r.resume(edit)
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
