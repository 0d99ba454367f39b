package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-approval/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

type recordedRun struct {
	handler string
	err     error
}

type mockRecorder struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (r *mockRecorder) ObserveHandler(eventType, handler string, took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{handler: handler, err: err})
}

func newEvent() *event.Event {
	return event.NewEvent(event.TypeApprovalCompleted, "req-1", "PO-1", nil)
}

func TestSubscribe_GeneratesNames(t *testing.T) {
	d := NewDispatcher()
	noop := func(context.Context, *event.Event) error { return nil }

	d.Subscribe(event.TypeApprovalCompleted, noop)
	d.Subscribe(event.TypeApprovalCompleted, noop)
	d.Unsubscribe(event.TypeApprovalCompleted, "handler-0")
	d.Subscribe(event.TypeApprovalCompleted, noop)

	handlers := d.ListHandlers(event.TypeApprovalCompleted)
	require.Len(t, handlers, 2)
	assert.Equal(t, "handler-1", handlers[0].Name)
	assert.Equal(t, "handler-2", handlers[1].Name)
	assert.Nil(t, handlers[0].Handler)
}

func TestDispatch_RunsHandlersInOrder(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))

	var order []string
	d.SubscribeNamed(event.TypeApprovalCompleted, "first", "", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "first")
		return nil
	})
	d.SubscribeNamed(event.TypeApprovalCompleted, "second", "", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "second")
		return nil
	})
	d.SubscribeNamed(event.TypeApprovalCancelled, "other", "", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "other")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), newEvent()))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatch_FailuresDoNotStopOtherHandlers(t *testing.T) {
	logger := &mockLogger{}
	recorder := &mockRecorder{}
	d := NewDispatcher(WithLogger(logger), WithRecorder(recorder))

	boom := errors.New("boom")
	var lastRan bool
	d.SubscribeNamed(event.TypeApprovalCompleted, "fails", "", func(context.Context, *event.Event) error { return boom })
	d.SubscribeNamed(event.TypeApprovalCompleted, "panics", "", func(context.Context, *event.Event) error { panic("bad handler") })
	d.SubscribeNamed(event.TypeApprovalCompleted, "last", "", func(context.Context, *event.Event) error {
		lastRan = true
		return nil
	})

	err := d.Dispatch(context.Background(), newEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler panic: bad handler")
	assert.True(t, lastRan)

	require.Len(t, recorder.runs, 3)
	assert.Equal(t, "fails", recorder.runs[0].handler)
	assert.Error(t, recorder.runs[1].err)
	assert.NoError(t, recorder.runs[2].err)
	assert.GreaterOrEqual(t, logger.errorCount(), 2)
}

func TestDispatchAsync_DetachesFromCancellation(t *testing.T) {
	d := NewDispatcher()

	var calls atomic.Int32
	var sawCancelled atomic.Bool
	d.Subscribe(event.TypeApprovalRequested, func(ctx context.Context, evt *event.Event) error {
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancelled.Store(true)
		}
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.DispatchAsync(ctx, event.NewEvent(event.TypeApprovalRequested, "req-1", "", nil))
	cancel()

	require.NoError(t, d.Close())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, sawCancelled.Load())
}

func TestClose(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))

	require.NoError(t, d.Close())
	assert.Error(t, d.Close())
	assert.ErrorIs(t, d.Dispatch(context.Background(), newEvent()), ErrClosed)

	d.DispatchAsync(context.Background(), newEvent())
	assert.Equal(t, 1, logger.errorCount())
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Subscribe(event.TypeApprovalDecided, func(context.Context, *event.Event) error {
				count.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeApprovalDecided, "r", "", nil))
	}
	require.NoError(t, d.Close())

	assert.Equal(t, int64(200), count.Load())
	assert.Len(t, d.ListHandlers(event.TypeApprovalDecided), 10)
}

func TestClose_WaitsForHandlersAcceptedDuringShutdown(t *testing.T) {
	d := NewDispatcher(WithLogger(&mockLogger{}))
	var started, finished atomic.Int64
	d.Subscribe(event.TypeApprovalDecided, func(context.Context, *event.Event) error {
		started.Add(1)
		time.Sleep(time.Millisecond)
		finished.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.DispatchAsync(context.Background(), event.NewEvent(event.TypeApprovalDecided, "r", "", nil))
			}
		}()
	}

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, d.Close())
	assert.Equal(t, started.Load(), finished.Load())

	wg.Wait()
	assert.Equal(t, started.Load(), finished.Load())
}
