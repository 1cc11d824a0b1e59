package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/encodeous/tasknet/state"
)

var (
	errHealthCheck = errors.New("work health check failed")
	errParentDone  = errors.New("parent is done")
)

func superseded(err error) bool {
	return errors.Is(err, errParentDone)
}

// supervise runs the node's work whenever the activation signal fires, restarting it after
// failures until it completes, is superseded or ctx ends.
func (n *Node) supervise(ctx context.Context) {
	for {
		n.mu.Lock()
		sig := n.activated
		n.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-sig.Wait():
		}

		attempt, cancel := context.WithCancelCause(ctx)
		n.mu.Lock()
		if !n.st.Active || n.st.Done {
			// withdrawn between activation and start
			finished := n.st.Done || n.parentDone
			n.activated = state.NewSignal()
			n.mu.Unlock()
			cancel(nil)
			if finished {
				return
			}
			continue
		}
		n.working = true
		n.cancelWork = cancel
		n.mu.Unlock()

		n.log.Debug("work started")
		result := make(chan error, 1)
		go func() {
			result <- n.safeWork(attempt)
		}()
		err := n.watch(attempt, result)

		switch {
		case err == nil:
			cancel(nil)
			n.complete()
			return
		case ctx.Err() != nil:
			cancel(context.Cause(ctx))
			n.join(result)
			n.resetWork()
			return
		case superseded(err):
			n.log.Info("work superseded", "reason", err)
			cancel(err)
			n.join(result)
			n.undo(ctx)
			n.resetWork()
			return
		default:
			n.log.Warn("work failed, restarting", "error", err)
			cancel(err)
			n.join(result)
			n.undo(ctx)
			n.resetWork()
			if n.adoptPeerCompletion() {
				return
			}
			n.opts.Metrics.ObserveRestart(n.opts.Name)
			if err := n.retry.Wait(ctx); err != nil {
				return
			}
		}
	}
}

// watch waits for the attempt to end, polling the health check meanwhile.
func (n *Node) watch(ctx context.Context, result <-chan error) error {
	t := time.NewTicker(n.opts.CheckWorkInterval)
	defer t.Stop()
	for {
		select {
		case err := <-result:
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if err != nil {
				return fmt.Errorf("work returned: %w", err)
			}
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-t.C:
			if !n.safeCheck(ctx) {
				return errHealthCheck
			}
		}
	}
}

// join waits for the worker to honour cancellation, giving up after WorkJoinTimeout.
func (n *Node) join(result <-chan error) {
	t := time.NewTimer(n.opts.WorkJoinTimeout)
	defer t.Stop()
	select {
	case <-result:
	case <-t.C:
		n.log.Warn("work did not stop in time, continuing without it", "timeout", n.opts.WorkJoinTimeout)
	}
}

// complete records successful work and reports it to the parent, peers and runtime.
func (n *Node) complete() {
	n.mu.Lock()
	n.st.Active = false
	n.st.Done = true
	n.working = false
	n.cancelWork = nil
	n.publishDoneLocked()
	n.publishToPeersLocked()
	first := n.markCompletedLocked()
	n.mu.Unlock()

	n.log.Info("work complete")
	if first {
		n.notifyComplete()
	}
}

// adoptPeerCompletion ends supervision after a failed attempt when a peer finished the
// task meanwhile.
func (n *Node) adoptPeerCompletion() bool {
	n.mu.Lock()
	done := n.st.Done
	first := done && n.markCompletedLocked()
	n.mu.Unlock()
	if first {
		n.log.Info("work failed after a peer completed the task, not retrying")
		n.notifyComplete()
	}
	return done
}

func (n *Node) resetWork() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.st.Active = false
	n.working = false
	n.cancelWork = nil
	n.activated = state.NewSignal()
}

func (n *Node) undo(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("panic while undoing work", "panic", r)
		}
	}()
	if err := n.behavior.UndoWork(ctx); err != nil {
		n.log.Warn("failed to undo work", "error", err)
	}
}

func (n *Node) safeWork(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in work: %v", r)
		}
	}()
	return n.behavior.Work(ctx)
}

func (n *Node) safeCheck(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("panic in work check", "panic", r)
			ok = false
		}
	}()
	return n.behavior.CheckWork(ctx)
}
