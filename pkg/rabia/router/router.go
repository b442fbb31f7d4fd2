// Package router implements the in-process typed pub/sub bus used to
// deliver topology events and leader notifications to subscribed
// components (spec §4.3); protocol messages travel over the transport. It generalizes the broadcast event
// bus pattern (publish to every subscriber, non-blocking, nil-safe) to a
// topic-keyed registry with both synchronous and deferred delivery.
package router

import "sync"

// Topic tags the kind of message flowing through the bus. Using a small
// closed set of string constants instead of reflect.Type keeps dispatch
// readable in logs and keeps the handler map exhaustive-by-convention,
// matching the tagged-variant idiom used for the protocol messages
// themselves.
type Topic string

// Handler is invoked with the message published on a Topic. Handlers
// registered for synchronous Route calls must not re-enter the Router
// through Route from inside the handler with the same Topic they are
// currently handling - use RouteAsync from within a handler if deferred
// re-emission is needed.
type Handler func(msg interface{})

// Router is a typed in-process bus. It is safe for concurrent use.
type Router struct {
	mutex    sync.RWMutex
	handlers map[Topic][]Handler

	asyncOnce  sync.Once
	asyncQueue chan asyncJob
	closed     chan struct{}
}

type asyncJob struct {
	topic   Topic
	produce func() interface{}
}

// New creates a Router with its deferred-delivery worker running.
func New() *Router {
	r := &Router{
		handlers:   make(map[Topic][]Handler),
		asyncQueue: make(chan asyncJob, 256),
		closed:     make(chan struct{}),
	}
	go r.drainAsync()
	return r
}

// Subscribe registers handler to be invoked whenever topic is routed.
// Subscriptions are never removed individually; a Router is scoped to one
// engine/topology/leader-manager trio and torn down with Close.
func (r *Router) Subscribe(topic Topic, handler Handler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers[topic] = append(r.handlers[topic], handler)
}

// Route delivers msg synchronously: every subscribed handler runs on the
// caller's goroutine, in subscription order, before Route returns. Two
// Route calls from the same caller are therefore observed by handlers in
// call order.
func (r *Router) Route(topic Topic, msg interface{}) {
	r.mutex.RLock()
	handlers := append([]Handler(nil), r.handlers[topic]...)
	r.mutex.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// RouteAsync defers delivery: produce is invoked and its result dispatched
// on the Router's worker goroutine, off the caller's stack. This exists to
// avoid reentrancy when a handler would otherwise re-enter the emitter
// while it still holds its own internal state (spec §4.3). RouteAsync
// provides no ordering guarantee relative to Route or to other RouteAsync
// calls.
func (r *Router) RouteAsync(topic Topic, produce func() interface{}) {
	select {
	case <-r.closed:
	case r.asyncQueue <- asyncJob{topic: topic, produce: produce}:
	}
}

func (r *Router) drainAsync() {
	for {
		select {
		case <-r.closed:
			return
		case job := <-r.asyncQueue:
			r.Route(job.topic, job.produce())
		}
	}
}

// Close stops the deferred-delivery worker. Idempotent.
func (r *Router) Close() {
	r.asyncOnce.Do(func() {
		close(r.closed)
	})
}
