package recorder

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vibe-report/pkg/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	id      string
	stopped atomic.Bool
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) Stop() error {
	t.stopped.Store(true)
	return nil
}

type fakeStream struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	tracks []*fakeTrack
}

func newFakeStream() *fakeStream {
	pr, pw := io.Pipe()
	return &fakeStream{
		pr:     pr,
		pw:     pw,
		tracks: []*fakeTrack{{id: "mic-0"}, {id: "mic-1"}},
	}
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *fakeStream) Finalize() error { return s.pw.Close() }

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) allStopped() bool {
	for _, t := range s.tracks {
		if !t.stopped.Load() {
			return false
		}
	}
	return true
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (d *fakeDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

type completion struct {
	rec     *models.Recording
	contact models.ContactInfo
}

func TestAutoStopAtMaxDuration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dev := &fakeDevice{}
	ticks := make(chan Snapshot, 64)
	done := make(chan completion, 1)

	c := New(dev, Options{
		Clock:      clock,
		OnTick:     func(s Snapshot) { ticks <- s },
		OnComplete: func(r *models.Recording, ci models.ContactInfo) { done <- completion{r, ci} },
	})
	defer c.Close()

	contact := models.ContactInfo{Name: "Asha", Email: "asha@example.com", Phone: "1"}
	c.SetContact(contact)
	require.NoError(t, c.Start(context.Background()))

	for i := 1; i <= DefaultMaxDuration; i++ {
		clock.Advance(time.Second)
		select {
		case snap := <-ticks:
			require.Equal(t, i, snap.Elapsed)
			assert.Equal(t, DefaultMaxDuration-i, snap.Remaining)
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not delivered", i)
		}
	}

	select {
	case got := <-done:
		assert.Equal(t, DefaultMaxDuration, got.rec.Elapsed)
		assert.Equal(t, models.RecordingMIMEType, got.rec.MIMEType)
		assert.Equal(t, contact, got.contact)
	case <-time.After(2 * time.Second):
		t.Fatal("completion not delivered")
	}

	assert.False(t, c.Active())
	assert.True(t, dev.last().allStopped())

	clock.Advance(5 * time.Second)
	select {
	case snap := <-ticks:
		t.Fatalf("unexpected tick after auto-stop: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartPermissionDenied(t *testing.T) {
	dev := &fakeDevice{err: errors.New("NotAllowedError")}
	c := New(dev, Options{Clock: clockwork.NewFakeClock()})
	defer c.Close()

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermission)
	assert.False(t, c.Active())
	assert.Empty(t, c.Snapshot().SessionID)
}

func TestStartWhileActive(t *testing.T) {
	c := New(&fakeDevice{}, Options{Clock: clockwork.NewFakeClock()})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRecording)
}

func TestStopIdleIsNoop(t *testing.T) {
	called := false
	c := New(&fakeDevice{}, Options{
		Clock:      clockwork.NewFakeClock(),
		OnComplete: func(*models.Recording, models.ContactInfo) { called = true },
	})
	defer c.Close()

	assert.Nil(t, c.Stop())
	assert.False(t, called)
}

func TestZeroLengthStopReleasesTracks(t *testing.T) {
	dev := &fakeDevice{}
	c := New(dev, Options{Clock: clockwork.NewFakeClock()})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	rec := c.Stop()

	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.Elapsed)
	assert.Empty(t, rec.Data)
	assert.True(t, dev.last().allStopped())
	assert.False(t, c.Active())
}

func TestCallbackRunsAfterRelease(t *testing.T) {
	dev := &fakeDevice{}
	var releasedBeforeCallback atomic.Bool

	c := New(dev, Options{
		Clock: clockwork.NewFakeClock(),
		OnComplete: func(*models.Recording, models.ContactInfo) {
			releasedBeforeCallback.Store(dev.last().allStopped())
		},
	})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	require.NotNil(t, c.Stop())
	assert.True(t, releasedBeforeCallback.Load())
}

func TestStopCollectsCapturedAudio(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dev := &fakeDevice{}
	ticks := make(chan Snapshot, 8)
	c := New(dev, Options{Clock: clock, OnTick: func(s Snapshot) { ticks <- s }})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))

	stream := dev.last()
	_, err := stream.pw.Write([]byte("webm-"))
	require.NoError(t, err)
	_, err = stream.pw.Write([]byte("payload"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	<-ticks

	rec := c.Stop()
	require.NotNil(t, rec)
	assert.Equal(t, []byte("webm-payload"), rec.Data)
	assert.Equal(t, 1, rec.Elapsed)
	assert.Equal(t, len("webm-payload"), rec.Size)
}

func TestCloseSkipsCallback(t *testing.T) {
	dev := &fakeDevice{}
	called := false
	c := New(dev, Options{
		Clock:      clockwork.NewFakeClock(),
		OnProgress: func(float64) {},
		OnComplete: func(*models.Recording, models.ContactInfo) { called = true },
	})

	require.NoError(t, c.Start(context.Background()))
	c.Close()

	assert.False(t, called)
	assert.True(t, dev.last().allStopped())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}

func TestNewSessionAfterStop(t *testing.T) {
	dev := &fakeDevice{}
	c := New(dev, Options{Clock: clockwork.NewFakeClock()})
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	first := c.Snapshot().SessionID
	c.Stop()

	require.NoError(t, c.Start(context.Background()))
	snap := c.Snapshot()
	assert.NotEqual(t, first, snap.SessionID)
	assert.Equal(t, 0, snap.Elapsed)
	assert.True(t, snap.Active)
}

func TestEaseProgress(t *testing.T) {
	assert.InDelta(t, 0.1, easeProgress(0, 0.5), 1e-9)
	assert.Equal(t, 1.0, easeProgress(0.9995, 1))
	assert.Equal(t, 0.0, easeProgress(0, 0))

	p := 0.0
	for i := 0; i < 100; i++ {
		next := easeProgress(p, 0.4)
		require.GreaterOrEqual(t, next, p)
		p = next
	}
	assert.Equal(t, 0.4, p)
}
