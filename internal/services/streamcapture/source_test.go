package streamcapture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-worker-go/internal/models"
)

type stubFrame struct {
	w, h   int
	closed bool
}

func (f *stubFrame) Size() (int, int) { return f.w, f.h }
func (f *stubFrame) Resize(w, h int) error {
	f.w, f.h = w, h
	return nil
}
func (f *stubFrame) Close() error {
	f.closed = true
	return nil
}

type stubCapture struct {
	frames []*stubFrame
	closed bool
}

func (c *stubCapture) Read() (models.Frame, bool) {
	if len(c.frames) == 0 {
		return nil, false
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, true
}

func (c *stubCapture) Close() error {
	c.closed = true
	return nil
}

// scriptedOpener fails every address until its listed success attempt.
type scriptedOpener struct {
	mu        sync.Mutex
	succeedOn map[string]int
	calls     map[string]int
	order     []string
	capture   *stubCapture
}

func newScriptedOpener(succeedOn map[string]int) *scriptedOpener {
	return &scriptedOpener{succeedOn: succeedOn, calls: map[string]int{}, capture: &stubCapture{}}
}

func (o *scriptedOpener) Open(address string) (Capture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[address]++
	o.order = append(o.order, address)
	if n, ok := o.succeedOn[address]; ok && o.calls[address] >= n {
		return o.capture, nil
	}
	return nil, errors.New("connection refused")
}

func TestOpenFallsBackAfterPrimaryExhausted(t *testing.T) {
	opener := newScriptedOpener(map[string]int{"./videos/test.mp4": 2})

	src, err := Open(context.Background(), opener, "rtsp://10.0.0.9/live", "./videos/test.mp4",
		Options{MaxRetries: 3, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "./videos/test.mp4", src.Address())
	assert.Equal(t, 3+2, src.Attempts(), "primary retries plus two fallback attempts")
	assert.Equal(t, 3, opener.calls["rtsp://10.0.0.9/live"])
	assert.Equal(t, 2, opener.calls["./videos/test.mp4"])
	assert.True(t, src.IsFile())
}

func TestOpenPrefersPrimary(t *testing.T) {
	opener := newScriptedOpener(map[string]int{"rtsp://cam/1": 1})

	src, err := Open(context.Background(), opener, "rtsp://cam/1", "./fallback.mp4", Options{MaxRetries: 3})
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam/1", src.Address())
	assert.Equal(t, 1, src.Attempts())
	assert.Zero(t, opener.calls["./fallback.mp4"])
}

func TestOpenFailsWhenBothExhausted(t *testing.T) {
	opener := newScriptedOpener(nil)

	_, err := Open(context.Background(), opener, "rtsp://cam/1", "./fallback.mp4",
		Options{MaxRetries: 2, RetryDelay: time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, []string{"rtsp://cam/1", "rtsp://cam/1", "./fallback.mp4", "./fallback.mp4"}, opener.order)
}

func TestOpenSkipsEmptyPrimary(t *testing.T) {
	opener := newScriptedOpener(map[string]int{"./fallback.mp4": 1})

	src, err := Open(context.Background(), opener, "", "./fallback.mp4", Options{MaxRetries: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, src.Attempts())
}

func TestOpenHonoursCancellation(t *testing.T) {
	opener := newScriptedOpener(nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := Open(ctx, opener, "rtsp://cam/1", "", Options{MaxRetries: 100, RetryDelay: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReadFrameNormalizesSize(t *testing.T) {
	capture := &stubCapture{frames: []*stubFrame{{w: 1920, h: 1080}}}
	src := &Source{capture: capture, address: "rtsp://cam/1", width: 640, height: 480}

	frame, err := src.ReadFrame()
	require.NoError(t, err)
	w, h := frame.Size()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
	assert.EqualValues(t, 1, src.Frames())
}

func TestReadFrameErrors(t *testing.T) {
	live := &Source{capture: &stubCapture{}, address: "rtsp://cam/1"}
	_, err := live.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameRead)
	assert.NotErrorIs(t, err, ErrEndOfStream)

	file := &Source{capture: &stubCapture{}, address: "./clip.mp4", file: true}
	_, err = file.ReadFrame()
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.ErrorIs(t, err, ErrFrameRead, "end of stream is still a read failure")
}

func TestCloseIsIdempotent(t *testing.T) {
	capture := &stubCapture{}
	src := &Source{capture: capture}
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, capture.closed)
}

func TestIsFileAddress(t *testing.T) {
	assert.True(t, IsFileAddress("./yolomodels/testvideo.mp4"))
	assert.True(t, IsFileAddress("/data/clip.mov"))
	assert.False(t, IsFileAddress("rtsp://10.0.0.1:554/stream"))
	assert.True(t, IsFileAddress("file:///data/clip.MP4"))
	assert.False(t, IsFileAddress("0"))
	assert.False(t, IsFileAddress(""))
	assert.False(t, IsFileAddress("10.0.0.5:554/live"), "host:port stream without a scheme")
	assert.False(t, IsFileAddress("/dev/video0"))
	assert.False(t, IsFileAddress("camera-7"))
}

// A live stream given without a scheme must still report a plain read
// failure when it drops, never end of stream.
func TestSchemelessStreamDropIsReadFailure(t *testing.T) {
	opener := newScriptedOpener(map[string]int{"10.0.0.5:554/live": 1})
	src, err := Open(context.Background(), opener, "10.0.0.5:554/live", "", Options{MaxRetries: 1})
	require.NoError(t, err)
	defer src.Close()

	assert.False(t, src.IsFile())
	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameRead)
	assert.NotErrorIs(t, err, ErrEndOfStream)
}
