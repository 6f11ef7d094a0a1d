package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"vibe-report/pkg/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	ErrPermission       = errors.New("microphone access denied or unavailable")
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrClosed           = errors.New("recorder closed")
)

const DefaultMaxDuration = 30

type Options struct {
	// MaxDuration is the auto-stop threshold in ticks.
	MaxDuration      int
	TickInterval     time.Duration
	ProgressInterval time.Duration
	// FinalizeTimeout bounds the wait for the encoder to flush. It runs on
	// the wall clock, not Clock.
	FinalizeTimeout time.Duration

	Clock  clockwork.Clock
	Logger *zap.Logger

	// OnComplete receives the finalized recording after every track has
	// been released. It runs outside the controller lock and must not call
	// Close.
	OnComplete func(*models.Recording, models.ContactInfo)
	OnTick     func(Snapshot)
	OnProgress func(float64)
}

// Session is one capture from Start to Stop.
type Session struct {
	ID          string
	StartedAt   time.Time
	MaxDuration int

	elapsed int
	active  bool
	stream  Stream
	cancel  context.CancelFunc

	bufMu    sync.Mutex
	chunks   [][]byte
	readDone chan struct{}
	readErr  error
}

type Snapshot struct {
	SessionID   string `json:"session_id,omitempty"`
	Active      bool   `json:"active"`
	Elapsed     int    `json:"elapsed"`
	MaxDuration int    `json:"max_duration"`
	Remaining   int    `json:"remaining"`
}

// Controller owns the capture device for at most one active session.
type Controller struct {
	device Device
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger

	mu       sync.Mutex
	starting bool
	session  *Session
	contact  models.ContactInfo
	closed   bool

	loops sync.WaitGroup
}

func New(device Device, opts Options) *Controller {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 100 * time.Millisecond
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Controller{
		device: device,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
}

// SetContact records the contact details handed to the completion callback.
func (c *Controller) SetContact(contact models.ContactInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contact = contact
}

func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.starting || (c.session != nil && c.session.active) {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.starting = true
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false

	if err != nil {
		if !errors.Is(err, ErrPermission) {
			err = fmt.Errorf("%w: %v", ErrPermission, err)
		}
		c.logger.Warn("microphone unavailable, recording not started", zap.Error(err))
		return err
	}
	if c.closed {
		c.release(stream)
		return ErrClosed
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          uuid.New().String(),
		StartedAt:   c.clock.Now(),
		MaxDuration: c.opts.MaxDuration,
		active:      true,
		stream:      stream,
		cancel:      cancel,
		readDone:    make(chan struct{}),
	}
	c.session = s

	go s.capture()

	// Tickers are created here so they exist before Start returns.
	ticker := c.clock.NewTicker(c.opts.TickInterval)
	c.loops.Add(1)
	go c.tickLoop(loopCtx, s, ticker)

	if c.opts.OnProgress != nil {
		pt := c.clock.NewTicker(c.opts.ProgressInterval)
		c.loops.Add(1)
		go c.progressLoop(loopCtx, s, pt)
	}

	c.logger.Info("recording started",
		zap.String("recording_session", s.ID),
		zap.Int("max_duration", s.MaxDuration),
	)
	return nil
}

// Stop finalizes the active session and returns its recording, or nil when
// nothing is recording.
func (c *Controller) Stop() *models.Recording {
	c.mu.Lock()
	s := c.session
	if s == nil || !s.active {
		c.mu.Unlock()
		return nil
	}
	rec := c.stopLocked(s)
	contact := c.contact
	c.mu.Unlock()

	c.complete(rec, contact)
	return rec
}

// Discard stops any active session without invoking the completion
// callback and forgets it.
func (c *Controller) Discard() {
	c.mu.Lock()
	if s := c.session; s != nil && s.active {
		c.stopLocked(s)
	}
	c.session = nil
	c.mu.Unlock()
}

// Close discards the active session and waits for its loops to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Discard()
	c.loops.Wait()
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.active
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.session
	if s == nil {
		return Snapshot{MaxDuration: c.opts.MaxDuration, Remaining: c.opts.MaxDuration}
	}
	remaining := s.MaxDuration - s.elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		SessionID:   s.ID,
		Active:      s.active,
		Elapsed:     s.elapsed,
		MaxDuration: s.MaxDuration,
		Remaining:   remaining,
	}
}

func (c *Controller) tickLoop(ctx context.Context, s *Session, ticker clockwork.Ticker) {
	defer c.loops.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if c.tick(s) {
				return
			}
		}
	}
}

// tick advances the session by one second and reports whether the loop
// should exit.
func (c *Controller) tick(s *Session) bool {
	c.mu.Lock()
	if c.session != s || !s.active {
		c.mu.Unlock()
		return true
	}

	s.elapsed++
	var (
		rec     *models.Recording
		contact models.ContactInfo
		done    = s.elapsed >= s.MaxDuration
	)
	if done {
		c.logger.Info("recording reached max duration", zap.String("recording_session", s.ID))
		rec = c.stopLocked(s)
		contact = c.contact
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.opts.OnTick != nil {
		c.opts.OnTick(snap)
	}
	if done {
		c.complete(rec, contact)
	}
	return done
}

func (c *Controller) progressLoop(ctx context.Context, s *Session, ticker clockwork.Ticker) {
	defer c.loops.Done()
	defer ticker.Stop()

	var progress float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if c.session != s || !s.active {
				c.mu.Unlock()
				return
			}
			target := float64(s.elapsed) / float64(s.MaxDuration)
			c.mu.Unlock()

			progress = easeProgress(progress, target)
			c.opts.OnProgress(progress)
		}
	}
}

// easeProgress moves current a fifth of the way toward target, clamped to [0,1].
func easeProgress(current, target float64) float64 {
	next := current + (target-current)*0.2
	if target-next < 0.001 {
		next = target
	}
	switch {
	case next < 0:
		return 0
	case next > 1:
		return 1
	}
	return next
}

// stopLocked halts the loops, flushes the encoder and releases the device.
// The caller holds c.mu.
func (c *Controller) stopLocked(s *Session) *models.Recording {
	s.cancel()

	if err := s.stream.Finalize(); err != nil {
		c.logger.Warn("finalize encoder", zap.String("recording_session", s.ID), zap.Error(err))
	}

	timer := time.NewTimer(c.opts.FinalizeTimeout)
	select {
	case <-s.readDone:
		if s.readErr != nil {
			c.logger.Warn("capture stream ended with error",
				zap.String("recording_session", s.ID),
				zap.Error(s.readErr),
			)
		}
	case <-timer.C:
		c.logger.Warn("encoder did not flush in time", zap.String("recording_session", s.ID))
	}
	timer.Stop()

	c.release(s.stream)
	s.active = false

	rec := models.NewRecording(s.data(), s.elapsed)
	c.logger.Info("recording stopped",
		zap.String("recording_session", s.ID),
		zap.Int("elapsed", s.elapsed),
		zap.Int("bytes", rec.Size),
	)
	return rec
}

func (c *Controller) release(stream Stream) {
	for _, t := range stream.Tracks() {
		if err := t.Stop(); err != nil {
			c.logger.Warn("release track", zap.String("track", t.ID()), zap.Error(err))
		}
	}
}

func (c *Controller) complete(rec *models.Recording, contact models.ContactInfo) {
	if c.opts.OnComplete != nil {
		c.opts.OnComplete(rec, contact)
	}
}

func (s *Session) capture() {
	defer close(s.readDone)

	buf := make([]byte, 32*1024)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.bufMu.Lock()
			s.chunks = append(s.chunks, chunk)
			s.bufMu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.readErr = err
			}
			return
		}
	}
}

func (s *Session) data() []byte {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return bytes.Join(s.chunks, nil)
}
