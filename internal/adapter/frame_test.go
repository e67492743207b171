package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/testutil"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

const eventWait = 10 * time.Second

// eventLog is an EventSink that queues events for inspection.
type eventLog struct{ ch chan bridge.Event }

func newEventLog() *eventLog { return &eventLog{ch: make(chan bridge.Event, 32)} }

func (l *eventLog) Emit(ev bridge.Event) { l.ch <- ev }

func (l *eventLog) next(t *testing.T) bridge.Event {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(eventWait):
		require.FailNow(t, "timed out waiting for event")
		return bridge.Event{}
	}
}

// expect reads events and asserts their kinds in order.
func (l *eventLog) expect(t *testing.T, kinds ...bridge.EventKind) []bridge.Event {
	t.Helper()
	out := make([]bridge.Event, 0, len(kinds))
	for _, k := range kinds {
		ev := l.next(t)
		require.Equal(t, k, ev.Kind, "got %s with payload %q", ev.Kind, ev.Payload)
		out = append(out, ev)
	}
	return out
}

func fixtureDir(t *testing.T) (string, []testutil.ScanFixture) {
	t.Helper()
	dir := t.TempDir()
	return dir, testutil.GenerateFixtures(t, dir)
}

func testFrameConfig() FrameConfig {
	return FrameConfig{Frame: utils.DefaultFrameOptions()}
}

func TestFileAdapter_FindsFirstCode(t *testing.T) {
	dir, fixtures := fixtureDir(t)
	hello := testutil.Find(t, fixtures, "qr_hello")

	a, err := NewFileAdapter([]string{
		filepath.Join(dir, "blank.png"),
		filepath.Join(dir, hello.File),
	}, testFrameConfig())
	require.NoError(t, err)
	assert.Equal(t, NameFiles, a.Name())

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 7, bridge.ScanRequest{}, log))

	evs := log.expect(t, bridge.EventStarted, bridge.EventCodeFound, bridge.EventEnded)
	for _, ev := range evs {
		assert.Equal(t, uint64(7), ev.RequestID)
	}
	assert.JSONEq(t, bridge.CodePayload(hello.Text, hello.Format), evs[1].Payload)
	a.Wait()
}

func TestFileAdapter_Code128Label(t *testing.T) {
	dir, fixtures := fixtureDir(t)
	label := testutil.Find(t, fixtures, "code128_label")

	a, err := NewFileAdapter([]string{filepath.Join(dir, label.File)}, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 1, bridge.ScanRequest{}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventCodeFound, bridge.EventEnded)
	assert.JSONEq(t, bridge.CodePayload("SCAN-0042", "CODE_128"), evs[1].Payload)
	a.Wait()
}

func TestFileAdapter_ExhaustedSource(t *testing.T) {
	dir, _ := fixtureDir(t)

	a, err := NewFileAdapter([]string{filepath.Join(dir, "blank.png")}, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 2, bridge.ScanRequest{}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventError)
	assert.Equal(t, NotFoundReason, evs[1].Payload)
	a.Wait()
}

func TestFileAdapter_FormatFilter(t *testing.T) {
	dir, fixtures := fixtureDir(t)
	hello := testutil.Find(t, fixtures, "qr_hello")

	a, err := NewFileAdapter([]string{filepath.Join(dir, hello.File)}, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	req := bridge.ScanRequest{Formats: []string{"CODE_128"}}
	require.NoError(t, a.StartSession(context.Background(), 3, req, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventError)
	assert.Equal(t, NotFoundReason, evs[1].Payload)
	a.Wait()
}

func TestFileAdapter_TryHarderRotated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotated.png")
	testutil.SaveImage(t, testutil.LabelImage(testutil.LabelConfig{
		Symbol:   testutil.Code128Image(t, "ROT-90", 300, 80),
		Width:    380,
		Height:   160,
		Rotation: 90,
	}), path)

	a, err := NewFileAdapter([]string{path}, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 4, bridge.ScanRequest{TryHarder: true}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventCodeFound, bridge.EventEnded)
	assert.JSONEq(t, bridge.CodePayload("ROT-90", "CODE_128"), evs[1].Payload)
	a.Wait()
}

func TestFileAdapter_StartErrors(t *testing.T) {
	a, err := NewFileAdapter([]string{"/does/not/exist.png"}, testFrameConfig())
	require.NoError(t, err)
	err = a.StartSession(context.Background(), 1, bridge.ScanRequest{}, newEventLog())
	require.ErrorIs(t, err, bridge.ErrNoWindowOrHardware)

	a, err = NewFileAdapter(nil, testFrameConfig())
	require.NoError(t, err)
	err = a.StartSession(context.Background(), 1, bridge.ScanRequest{}, newEventLog())
	require.ErrorIs(t, err, bridge.ErrNoWindowOrHardware)

	_, err = NewFrameAdapter("x", nil, testFrameConfig())
	require.Error(t, err)
}

func TestFileAdapter_SkipsUnreadableFrame(t *testing.T) {
	dir, fixtures := fixtureDir(t)
	hello := testutil.Find(t, fixtures, "qr_hello")
	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o600))

	a, err := NewFileAdapter([]string{broken, filepath.Join(dir, hello.File)}, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 6, bridge.ScanRequest{}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventCodeFound, bridge.EventEnded)
	assert.JSONEq(t, bridge.CodePayload(hello.Text, hello.Format), evs[1].Payload)
	a.Wait()
}

func TestFileAdapter_UnreadableAfterReadableFrame(t *testing.T) {
	dir, _ := fixtureDir(t)
	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o600))

	a, err := NewFileAdapter([]string{filepath.Join(dir, "blank.png"), broken}, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 8, bridge.ScanRequest{}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventError)
	assert.Equal(t, NotFoundReason, evs[1].Payload)
	a.Wait()
}

func TestFileSource_FrameError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0o600))

	src := NewFileSource([]string{path})
	_, err := src.Next(context.Background())
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, path, fe.Origin)
	assert.Contains(t, err.Error(), "broken.png")

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestFileAdapter_UnreadableFrameFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0o600))

	a, err := NewFileAdapter([]string{path}, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 5, bridge.ScanRequest{}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventError)
	assert.Contains(t, evs[1].Payload, "broken.png")
	a.Wait()
}

func TestMemoryAdapter(t *testing.T) {
	data := testutil.PNGBytes(t, testutil.QRImage(t, "in memory", 200))

	a, err := NewMemoryAdapter(data, testFrameConfig())
	require.NoError(t, err)
	assert.Equal(t, NameMemory, a.Name())

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 9, bridge.ScanRequest{}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventCodeFound, bridge.EventEnded)
	assert.JSONEq(t, bridge.CodePayload("in memory", "QR_CODE"), evs[1].Payload)
	a.Wait()

	bad, err := NewMemoryAdapter([]byte("nope"), testFrameConfig())
	require.NoError(t, err)
	require.Error(t, bad.StartSession(context.Background(), 10, bridge.ScanRequest{}, log))
}

func TestDirAdapter_WaitsForFrame(t *testing.T) {
	capture := t.TempDir()
	staging := t.TempDir()

	a, err := NewDirAdapter(capture, false, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 11, bridge.ScanRequest{}, log))
	log.expect(t, bridge.EventStarted)

	src := filepath.Join(staging, "frame.png")
	testutil.SaveImage(t, testutil.QRImage(t, "from camera", 240), src)
	require.NoError(t, os.Rename(src, filepath.Join(capture, "frame.png")))

	evs := log.expect(t, bridge.EventCodeFound, bridge.EventEnded)
	assert.JSONEq(t, bridge.CodePayload("from camera", "QR_CODE"), evs[0].Payload)
	a.Wait()
}

func TestDirAdapter_ExistingFrames(t *testing.T) {
	dir, fixtures := fixtureDir(t)
	hello := testutil.Find(t, fixtures, "qr_hello")

	a, err := NewDirAdapter(dir, true, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 12, bridge.ScanRequest{Formats: []string{"QR_CODE"}}, log))
	evs := log.expect(t, bridge.EventStarted, bridge.EventCodeFound, bridge.EventEnded)
	// blank and code128_label sort first and hold no QR symbol.
	assert.JSONEq(t, bridge.CodePayload(hello.Text, hello.Format), evs[1].Payload)
	a.Wait()
}

func TestDirAdapter_StopEndsSession(t *testing.T) {
	a, err := NewDirAdapter(t.TempDir(), false, testFrameConfig())
	require.NoError(t, err)

	log := newEventLog()
	require.NoError(t, a.StartSession(context.Background(), 13, bridge.ScanRequest{}, log))
	log.expect(t, bridge.EventStarted)

	a.StopSession(13)
	a.StopSession(13)
	log.expect(t, bridge.EventEnded)
	a.Wait()

	select {
	case ev := <-log.ch:
		t.Fatalf("unexpected event after stop: %v", ev)
	default:
	}
}

func TestDirAdapter_MissingDir(t *testing.T) {
	a, err := NewDirAdapter(filepath.Join(t.TempDir(), "missing"), false, testFrameConfig())
	require.NoError(t, err)
	err = a.StartSession(context.Background(), 1, bridge.ScanRequest{}, newEventLog())
	require.ErrorIs(t, err, bridge.ErrNoWindowOrHardware)

	file := filepath.Join(t.TempDir(), "file.png")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = OpenDir(file, false, nil)
	require.ErrorIs(t, err, bridge.ErrNoWindowOrHardware)
}

func TestFrameAdapter_WithFacade(t *testing.T) {
	dir, fixtures := fixtureDir(t)
	label := testutil.Find(t, fixtures, "qr_label")

	a, err := NewFileAdapter([]string{filepath.Join(dir, label.File)}, testFrameConfig())
	require.NoError(t, err)
	f, err := bridge.New(bridge.Config{Adapter: a})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	res, err := f.ScanContext(ctx, bridge.ScanRequest{})
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, label.Text, res.TextValue())
	assert.Equal(t, "QR_CODE", res.FormatValue())
	a.Wait()
}
