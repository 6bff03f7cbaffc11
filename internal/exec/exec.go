// Package exec provides ordered asynchronous task queues linked by
// completion events. It is the host-side analogue of device streams and
// events: each queue runs its tasks in submission order, and tasks on
// different queues are ordered only through the events they wait on and
// signal. There is no mutual exclusion — correctness of anything built on
// top comes entirely from the wait/signal graph.
package exec

import "sync"

// signaled is the channel behind every event that has never been recorded,
// so waiting on such an event returns immediately.
var signaled = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Event is a re-recordable completion handle. A freshly created event is
// signaled. Submitting a task with the event as its signal arms it; the
// owning queue records it again when the task finishes.
type Event struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewEvent returns an event in the signaled state.
func NewEvent() *Event { return &Event{ch: signaled} }

// arm installs a fresh recording and returns its channel for the queue
// runner to close.
func (e *Event) arm() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ch = make(chan struct{})
	return e.ch
}

// snapshot returns the recording armed at call time. Waiting tasks capture
// it when they are submitted, so a later re-record cannot release or steal
// an in-flight wait.
func (e *Event) snapshot() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait blocks until the recording armed most recently before the call has
// completed. Waiting on a never-recorded event is a no-op.
func (e *Event) Wait() { <-e.snapshot() }

type task struct {
	waits  []<-chan struct{}
	signal chan struct{}
	run    func()
}

// Queue executes submitted tasks one at a time in submission order.
type Queue struct {
	name   string
	tasks  chan task
	runner sync.WaitGroup
}

// NewQueue starts a queue with the given name and its runner goroutine.
func NewQueue(name string) *Queue {
	q := &Queue{name: name, tasks: make(chan task, 64)}
	q.runner.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.runner.Done()
	for t := range q.tasks {
		for _, w := range t.waits {
			<-w
		}
		if t.run != nil {
			t.run()
		}
		if t.signal != nil {
			close(t.signal)
		}
	}
}

// Submit enqueues fn. It runs after every event in waits, as recorded at
// submit time, has completed. If signal is non-nil it is armed now and
// recorded when fn returns. Submit does not block on task execution.
func (q *Queue) Submit(waits []*Event, signal *Event, fn func()) {
	t := task{run: fn}
	for _, w := range waits {
		t.waits = append(t.waits, w.snapshot())
	}
	if signal != nil {
		t.signal = signal.arm()
	}
	q.tasks <- t
}

// Sync blocks until every task submitted before the call has finished.
func (q *Queue) Sync() {
	ev := NewEvent()
	q.Submit(nil, ev, nil)
	ev.Wait()
}

// Close drains the remaining tasks and stops the runner. The queue must
// not be used afterwards.
func (q *Queue) Close() {
	close(q.tasks)
	q.runner.Wait()
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }
