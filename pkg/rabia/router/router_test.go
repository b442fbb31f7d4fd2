package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute_DeliversInSubscriptionOrder(t *testing.T) {
	r := New()
	defer r.Close()

	var order []int
	r.Subscribe("t", func(msg interface{}) { order = append(order, 1) })
	r.Subscribe("t", func(msg interface{}) { order = append(order, 2) })
	r.Route("t", nil)

	assert.Equal(t, []int{1, 2}, order)
}

func TestRoute_UnsubscribedTopicIsANoop(t *testing.T) {
	r := New()
	defer r.Close()
	assert.NotPanics(t, func() { r.Route("nothing-here", 42) })
}

func TestRouteAsync_DeliversOffCallerGoroutine(t *testing.T) {
	r := New()
	defer r.Close()

	done := make(chan struct{})
	var mutex sync.Mutex
	var got interface{}
	r.Subscribe("t", func(msg interface{}) {
		mutex.Lock()
		got = msg
		mutex.Unlock()
		close(done)
	})

	r.RouteAsync("t", func() interface{} { return "payload" })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async delivery never happened")
	}
	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, "payload", got)
}
