package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestCoordinator(a *fakeAdapter, ack time.Duration) *Coordinator {
	return NewCoordinator(a, CoordinatorConfig{AckTimeout: ack})
}

func TestCoordinator_CodeFoundDeliversOnce(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	require.NotZero(t, id)
	assert.Equal(t, StateStarting, c.State())

	c.Emit(Started(id))
	assert.Equal(t, StateReading, c.State())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Emit(CodeFound(id, CodePayload("4006381333931", "EAN_13")))
		}()
	}
	wg.Wait()

	s, f := rec.counts()
	assert.Equal(t, 1, s)
	assert.Equal(t, 0, f)
	assert.Equal(t, StateDelivering, c.State())
	assert.Equal(t, 1, a.stopCount())

	res := rec.successes[0]
	assert.False(t, res.Cancelled)
	assert.Equal(t, "4006381333931", res.TextValue())
	assert.Equal(t, "EAN_13", res.FormatValue())

	c.Emit(Ended(id))
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, rec.total())
}

func TestCoordinator_AlreadyScanning(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	first, second := &recorder{}, &recorder{}

	id := c.Scan(ScanRequest{}, first.success, first.fail)
	require.NotZero(t, id)

	assert.Zero(t, c.Scan(ScanRequest{}, second.success, second.fail))
	require.Len(t, second.failures, 1)
	require.ErrorIs(t, second.failures[0], ErrAlreadyScanning)
	assert.Equal(t, 1, a.startCount())
	assert.Equal(t, id, c.SessionID())
	assert.Equal(t, 0, first.total())
}

func TestCoordinator_CancelBeforeCode(t *testing.T) {
	a := &fakeAdapter{}
	a.onStop = func(id uint64, sink EventSink) { sink.Emit(Ended(id)) }
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(Started(id))

	require.True(t, c.Cancel())
	require.Len(t, rec.successes, 1)
	res := rec.successes[0]
	assert.True(t, res.Cancelled)
	assert.Nil(t, res.Text)
	assert.Nil(t, res.Format)
	assert.Equal(t, StateIdle, c.State())

	// Late events for the finished session change nothing.
	c.Emit(CodeFound(id, CodePayload("late", "QR_CODE")))
	assert.Equal(t, 1, rec.total())
	assert.False(t, c.Cancel())
}

func TestCoordinator_CancelWaitsForAck(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	require.True(t, c.Cancel())
	assert.Equal(t, StateCancelling, c.State())

	c.Emit(Failed(id, "camera closed"))
	assert.Equal(t, StateIdle, c.State())
	s, f := rec.counts()
	assert.Equal(t, 1, s)
	assert.Equal(t, 0, f)
}

func TestCoordinator_CancelCancelsContext(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	c.Scan(ScanRequest{}, rec.success, rec.fail)
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	require.NoError(t, ctx.Err())

	c.Cancel()
	require.Error(t, ctx.Err())
}

func TestCoordinator_EndedBeforeDeliveryIsCancel(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(Started(id))
	c.Emit(Ended(id))

	require.Len(t, rec.successes, 1)
	assert.Equal(t, CancelledResult(), rec.successes[0])
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_ErrorThenEndedDeliversOnce(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(Started(id))
	c.Emit(Failed(id, "Camera permission denied"))
	c.Emit(Ended(id))

	s, f := rec.counts()
	assert.Equal(t, 0, s)
	require.Equal(t, 1, f)
	err := rec.failures[0]
	require.ErrorIs(t, err, ErrNativeSession)
	assert.Equal(t, "Camera permission denied", err.Error())
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_ErrorInStarting(t *testing.T) {
	a := &fakeAdapter{}
	a.onStart = func(id uint64, sink EventSink) { sink.Emit(Failed(id, "hardware busy")) }
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	c.Scan(ScanRequest{}, rec.success, rec.fail)

	require.Len(t, rec.failures, 1)
	var ne *NativeError
	require.ErrorAs(t, rec.failures[0], &ne)
	assert.Equal(t, "hardware busy", ne.Reason)
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_ErrorAfterDeliveryIsAck(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(CodeFound(id, CodePayload("x", "QR_CODE")))
	c.Emit(Failed(id, "stopped"))

	s, f := rec.counts()
	assert.Equal(t, 1, s)
	assert.Equal(t, 0, f)
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_StaleEventsDiscarded(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(CodeFound(id+7, CodePayload("other", "QR_CODE")))
	c.Emit(Failed(id-1, "old session"))

	assert.Equal(t, 0, rec.total())
	assert.Equal(t, StateStarting, c.State())
}

func TestCoordinator_StartFailure(t *testing.T) {
	t.Run("reason passed through", func(t *testing.T) {
		a := &fakeAdapter{startErr: errors.New("Camera permission denied")}
		c := newTestCoordinator(a, time.Minute)
		rec := &recorder{}

		c.Scan(ScanRequest{}, rec.success, rec.fail)

		require.Len(t, rec.failures, 1)
		require.ErrorIs(t, rec.failures[0], ErrNativeSession)
		assert.Equal(t, "Camera permission denied", rec.failures[0].Error())
		assert.Equal(t, StateIdle, c.State())
	})

	t.Run("no hardware", func(t *testing.T) {
		a := &fakeAdapter{startErr: ErrNoWindowOrHardware}
		c := newTestCoordinator(a, time.Minute)
		rec := &recorder{}

		c.Scan(ScanRequest{}, rec.success, rec.fail)

		require.Len(t, rec.failures, 1)
		require.ErrorIs(t, rec.failures[0], ErrNoWindowOrHardware)
		assert.NotErrorIs(t, rec.failures[0], ErrNativeSession)
	})
}

func TestCoordinator_AckTimeoutReleases(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, 20*time.Millisecond)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(CodeFound(id, CodePayload("abc", "CODE_128")))
	assert.Equal(t, StateDelivering, c.State())

	require.Eventually(t, func() bool { return c.State() == StateIdle }, waitFor, 5*time.Millisecond)

	next := &recorder{}
	nextID := c.Scan(ScanRequest{}, next.success, next.fail)
	assert.Greater(t, nextID, id)
	assert.Equal(t, 0, next.total())
}

func TestCoordinator_CancelledPayload(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(CodeFound(id, `{"text":"","format":"","cancelled":true}`))

	require.Len(t, rec.successes, 1)
	assert.Equal(t, CancelledResult(), rec.successes[0])
}

func TestCoordinator_BareTextPayload(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	id := c.Scan(ScanRequest{}, rec.success, rec.fail)
	c.Emit(CodeFound(id, "just  some text"))

	require.Len(t, rec.successes, 1)
	assert.Equal(t, "just  some text", rec.successes[0].TextValue())
	assert.Nil(t, rec.successes[0].Format)
	assert.False(t, rec.successes[0].Cancelled)
}

func TestCoordinator_WireFormatCodes(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		text   string
		format *string
	}{
		{"known code", `{"text":"hello  there","format":12}`, "hello  there", ptr("QR_CODE")},
		{"unknown code", `{"text":"hello","format":999}`, "hello", nil},
		{"name", `{"text":"4006381333931","format":"EAN_13"}`, "4006381333931", ptr("EAN_13")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(&fakeAdapter{}, time.Minute)
			rec := &recorder{}
			id := c.Scan(ScanRequest{}, rec.success, rec.fail)

			ev, err := ParseMessage(fmt.Sprintf("%d %s %s", id, EventCodeFound.NativeName(), tt.msg))
			require.NoError(t, err)
			c.Emit(ev)

			require.Len(t, rec.successes, 1)
			res := rec.successes[0]
			assert.Equal(t, tt.text, res.TextValue())
			assert.Equal(t, tt.format, res.Format)

			b, err := json.Marshal(res)
			require.NoError(t, err)
			if tt.format == nil {
				assert.JSONEq(t, fmt.Sprintf(`{"text":%q,"format":null,"cancelled":false}`, tt.text), string(b))
			}
		})
	}
}

func TestCoordinator_ErrorReasonVerbatim(t *testing.T) {
	c := newTestCoordinator(&fakeAdapter{}, time.Minute)
	rec := &recorder{}
	id := c.Scan(ScanRequest{}, rec.success, rec.fail)

	ev, err := ParseMessage(fmt.Sprintf("%d errorfound Camera  busy\t(retry)", id))
	require.NoError(t, err)
	c.Emit(ev)

	require.Len(t, rec.failures, 1)
	require.ErrorIs(t, rec.failures[0], ErrNativeSession)
	assert.Equal(t, "Camera  busy\t(retry)", rec.failures[0].Error())
}

func ptr(s string) *string { return &s }

func TestCoordinator_CallbackPanicRecovered(t *testing.T) {
	a := &fakeAdapter{}
	c := newTestCoordinator(a, time.Minute)

	id := c.Scan(ScanRequest{}, func(ScanResult) { panic("app bug") }, func(error) {})
	assert.NotPanics(t, func() { c.Emit(CodeFound(id, CodePayload("x", "QR_CODE"))) })
	c.Emit(Ended(id))
	assert.Equal(t, StateIdle, c.State())
}

func TestCoordinator_SynchronousEmitsDuringStop(t *testing.T) {
	// An adapter that reports ended from inside StopSession must not deadlock.
	a := &fakeAdapter{}
	a.onStart = func(id uint64, sink EventSink) {
		sink.Emit(Started(id))
		sink.Emit(CodeFound(id, CodePayload("sync", "QR_CODE")))
	}
	a.onStop = func(id uint64, sink EventSink) { sink.Emit(Ended(id)) }
	c := newTestCoordinator(a, time.Minute)
	rec := &recorder{}

	c.Scan(ScanRequest{}, rec.success, rec.fail)

	require.Len(t, rec.successes, 1)
	assert.Equal(t, "sync", rec.successes[0].TextValue())
	assert.Equal(t, StateIdle, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "cancelling", StateCancelling.String())
	assert.Equal(t, "unknown", State(42).String())
}
