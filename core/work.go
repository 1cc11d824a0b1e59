package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/encodeous/tasknet/state"
)

// NopWorker completes immediately. Composite nodes use it.
type NopWorker struct{}

func (NopWorker) Work(context.Context) error { return nil }
func (NopWorker) CheckWork(context.Context) bool { return true }
func (NopWorker) UndoWork(context.Context) error { return nil }

// SleepWorker stands in for a physical task: it takes Duration to finish, and the health
// check fails during the first FailFirst attempts.
type SleepWorker struct {
	Duration  time.Duration
	FailFirst int

	attempts atomic.Int64
	undone   atomic.Int64
}

func NewSleepWorker(cfg state.WorkCfg) *SleepWorker {
	d := cfg.Duration
	if d <= 0 {
		d = state.DefaultWorkDuration
	}
	return &SleepWorker{Duration: d, FailFirst: cfg.FailFirst}
}

func (w *SleepWorker) Work(ctx context.Context) error {
	w.attempts.Add(1)
	t := time.NewTimer(w.Duration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *SleepWorker) CheckWork(context.Context) bool {
	return w.attempts.Load() > int64(w.FailFirst)
}

func (w *SleepWorker) UndoWork(context.Context) error {
	w.undone.Add(1)
	return nil
}

// Attempts is the number of times Work has been started.
func (w *SleepWorker) Attempts() int {
	return int(w.attempts.Load())
}

func (w *SleepWorker) Undone() int {
	return int(w.undone.Load())
}

// FuncWorker adapts plain functions to a Worker. Nil functions succeed.
type FuncWorker struct {
	WorkFn  func(ctx context.Context) error
	CheckFn func(ctx context.Context) bool
	UndoFn  func(ctx context.Context) error
}

func (f FuncWorker) Work(ctx context.Context) error {
	if f.WorkFn == nil {
		return nil
	}
	return f.WorkFn(ctx)
}

func (f FuncWorker) CheckWork(ctx context.Context) bool {
	if f.CheckFn == nil {
		return true
	}
	return f.CheckFn(ctx)
}

func (f FuncWorker) UndoWork(ctx context.Context) error {
	if f.UndoFn == nil {
		return nil
	}
	return f.UndoFn(ctx)
}
