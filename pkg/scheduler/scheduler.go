// Package scheduler runs cancellable interval tasks. Every loop returns a
// handle whose Stop guarantees the task is not running and will not run again.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one cycle of a loop. Errors are logged and the loop continues.
type Task func(ctx context.Context) error

type Loop struct {
	name      string
	interval  time.Duration
	task      Task
	log       *zap.Logger
	overlap   bool
	immediate bool

	cancel  context.CancelFunc
	trigger chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

type Option func(*Loop)

// WithOverlap lets a tick start a cycle while the previous one is still in
// flight. The task must then resolve which result is freshest.
func WithOverlap() Option { return func(l *Loop) { l.overlap = true } }

// WithImmediate runs the first cycle right away instead of after one interval.
func WithImmediate() Option { return func(l *Loop) { l.immediate = true } }

// Every starts task on a fixed interval until parent is done or Stop is called.
func Every(parent context.Context, name string, interval time.Duration, task Task, log *zap.Logger, opts ...Option) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		name:     name,
		interval: interval,
		task:     task,
		log:      log.With(zap.String("loop", name)),
		cancel:   cancel,
		trigger:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}

	l.wg.Add(1)
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	t := time.NewTicker(l.interval)
	defer t.Stop()

	if l.immediate {
		l.fire(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.fire(ctx)
		case <-l.trigger:
			l.fire(ctx)
		}
	}
}

func (l *Loop) fire(ctx context.Context) {
	if !l.overlap {
		l.exec(ctx)
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.exec(ctx)
	}()
}

func (l *Loop) exec(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("cycle panicked", zap.String("panic", fmt.Sprint(p)))
		}
	}()
	if err := l.task(ctx); err != nil && ctx.Err() == nil {
		l.log.Warn("cycle failed", zap.Error(err))
	}
}

// Trigger requests an out-of-cadence cycle. Extra requests coalesce.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for in-flight cycles to return.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
	})
}
