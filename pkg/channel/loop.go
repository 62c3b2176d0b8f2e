// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"context"
	"sync"
)

// Loop is the single event loop all channels of a Manager live on. Transports, timers and offloaded crypto
// operations Post tasks; the tasks run one after another on the goroutine calling Run or RunPending.
//
// No Channel, Registry or Manager method may be called outside of a task on this Loop, except where noted.
type Loop struct {
	mutex  sync.Mutex
	tasks  []func()
	wakeup chan struct{}
}

// NewLoop creates an idle Loop.
func NewLoop() *Loop {
	return &Loop{wakeup: make(chan struct{}, 1)}
}

// Post queues a task. It is safe to be called from any goroutine and never blocks.
func (l *Loop) Post(task func()) {
	l.mutex.Lock()
	l.tasks = append(l.tasks, task)
	l.mutex.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

func (l *Loop) take() (tasks []func()) {
	l.mutex.Lock()
	tasks, l.tasks = l.tasks, nil
	l.mutex.Unlock()
	return
}

// RunPending runs queued tasks, including those posted meanwhile, until the queue is empty. It returns the number
// of executed tasks.
func (l *Loop) RunPending() (n int) {
	for {
		tasks := l.take()
		if len(tasks) == 0 {
			return
		}

		for _, task := range tasks {
			task()
		}
		n += len(tasks)
	}
}

// Run executes tasks until the context is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wakeup:
		}
	}
}

// Call runs fn on the Loop and waits for its completion. It must not be called from a task, as this would deadlock.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
