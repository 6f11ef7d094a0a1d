// Package session drives one pass through the kiosk. It owns the flow
// state machine, the recorder for voice sessions and the submission, and
// fans state changes out to subscribers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"vibe-report/pkg/flow"
	"vibe-report/pkg/models"
	"vibe-report/pkg/pipeline"
	"vibe-report/pkg/recorder"

	"go.uber.org/zap"
)

var (
	ErrNoRecorder   = errors.New("session has no recorder")
	ErrNotRecording = errors.New("not recording")
	ErrNoReport     = errors.New("no report yet")
	ErrClosed       = errors.New("session closed")
)

// Processor runs a submission. *pipeline.Manager satisfies it.
type Processor interface {
	Process(ctx context.Context, sub *pipeline.Submission) (*models.Report, error)
}

type Options struct {
	Processor Processor
	// Device is required for voice sessions.
	Device recorder.Device
	// Recorder is the template for each session's recorder; its callbacks
	// are replaced.
	Recorder recorder.Options
	// AutoSubmit submits a recording as soon as it is finalized.
	AutoSubmit bool
	// SubmitTimeout bounds submissions started by the recorder itself.
	SubmitTimeout time.Duration
	Logger        *zap.Logger
}

type Snapshot struct {
	ID           string                 `json:"session_id"`
	Variant      flow.Variant           `json:"variant"`
	State        flow.State             `json:"state"`
	Contact      *models.ContactInfo    `json:"contact,omitempty"`
	Progress     *flow.Progress         `json:"progress,omitempty"`
	Question     string                 `json:"question,omitempty"`
	Answers      models.SurveyAnswers   `json:"answers,omitempty"`
	Recorder     *recorder.Snapshot     `json:"recorder,omitempty"`
	HasRecording bool                   `json:"has_recording"`
	CanSubmit    bool                   `json:"can_submit"`
	Result       *models.AnalysisResult `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

type Session struct {
	id        string
	proc      Processor
	recorder  *recorder.Controller
	auto      bool
	submitTTL time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	flow    *flow.Flow
	gen     int
	report  *models.Report
	lastErr error
	closed  bool

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	events *broadcaster
}

func New(id string, variant flow.Variant, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.SubmitTimeout
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		proc:      opts.Processor,
		auto:      opts.AutoSubmit,
		submitTTL: ttl,
		logger:    logger.With(zap.String("session_id", id)),
		flow:      flow.New(variant),
		ctx:       ctx,
		cancel:    cancel,
		events:    newBroadcaster(),
	}

	if variant == flow.VariantVoice && opts.Device != nil {
		ro := opts.Recorder
		ro.Logger = s.logger
		ro.OnComplete = s.recordingComplete
		ro.OnTick = func(snap recorder.Snapshot) { s.publish(EventTick, snap) }
		ro.OnProgress = func(p float64) { s.publish(EventProgress, p) }
		s.recorder = recorder.New(opts.Device, ro)
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// busy reports whether a recording or submission is in progress.
func (s *Session) busy() bool {
	s.mu.Lock()
	submitting := s.flow.State() == flow.StateSubmitting
	s.mu.Unlock()
	return submitting || (s.recorder != nil && s.recorder.Active())
}

func (s *Session) snapshotLocked() Snapshot {
	f := s.flow
	snap := Snapshot{
		ID:           s.id,
		Variant:      f.Variant(),
		State:        f.State(),
		HasRecording: f.Recording() != nil,
		CanSubmit:    f.CanSubmit(),
		Result:       f.Result(),
	}
	if f.State() != flow.StateContactForm {
		c := f.Contact()
		snap.Contact = &c
	}

	switch f.Variant() {
	case flow.VariantSurvey:
		snap.Answers = f.Answers()
	default:
		if f.State() == flow.StateQuestionBrowser {
			p := f.Progress()
			snap.Progress = &p
			snap.Question = f.Question()
		}
		if s.recorder != nil {
			r := s.recorder.Snapshot()
			snap.Recorder = &r
		}
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// update applies fn to the flow and publishes the new state on success.
func (s *Session) update(fn func(f *flow.Flow) error) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if err := fn(s.flow); err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(EventState, snap)
	return snap, nil
}

func (s *Session) SubmitContact(c models.ContactInfo) (Snapshot, error) {
	snap, err := s.update(func(f *flow.Flow) error { return f.SubmitContact(c) })
	if err == nil && s.recorder != nil {
		s.recorder.SetContact(*snap.Contact)
	}
	return snap, err
}

func (s *Session) Next() (Snapshot, error) {
	return s.update((*flow.Flow).Next)
}

func (s *Session) Prev() (Snapshot, error) {
	return s.update((*flow.Flow).Prev)
}

func (s *Session) SkipAll() (Snapshot, error) {
	return s.update((*flow.Flow).SkipAll)
}

func (s *Session) SetAnswer(key, option string) (Snapshot, error) {
	return s.update(func(f *flow.Flow) error { return f.SetAnswer(key, option) })
}

func (s *Session) StartRecording(ctx context.Context) (Snapshot, error) {
	if s.recorder == nil {
		return s.Snapshot(), ErrNoRecorder
	}
	if _, err := s.update((*flow.Flow).RecordingStarted); err != nil {
		return s.Snapshot(), err
	}

	if err := s.recorder.Start(ctx); err != nil {
		s.mu.Lock()
		_ = s.flow.RecordingFinished(nil)
		s.lastErr = err
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.publish(EventError, err.Error())
		return snap, err
	}
	return s.Snapshot(), nil
}

// StopRecording finalizes the take. With AutoSubmit the submission starts
// in the background; Wait blocks until it is done.
func (s *Session) StopRecording() (Snapshot, error) {
	if s.recorder == nil {
		return s.Snapshot(), ErrNoRecorder
	}
	if s.recorder.Stop() == nil {
		return s.Snapshot(), ErrNotRecording
	}
	return s.Snapshot(), nil
}

// recordingComplete runs on the recorder's callback path, never under the
// recorder lock.
func (s *Session) recordingComplete(rec *models.Recording, _ models.ContactInfo) {
	s.mu.Lock()
	if s.closed || s.flow.State() != flow.StateRecorder {
		s.mu.Unlock()
		return
	}
	_ = s.flow.RecordingFinished(rec)
	s.lastErr = nil
	s.logger.Info("recording finished", zap.Int("elapsed", rec.Elapsed), zap.Int("bytes", rec.Size))

	if !s.auto {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(EventState, snap)
		return
	}

	sub, gen, err := s.beginSubmitLocked()
	snap := s.snapshotLocked()
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("recording not submitted", zap.Error(err))
		s.publish(EventState, snap)
		s.publish(EventError, err.Error())
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()
	s.publish(EventState, snap)

	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.submitTTL)
		defer cancel()
		s.runSubmission(ctx, sub, gen)
	}()
}

// Submit sends the collected input and waits for the result.
func (s *Session) Submit(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	sub, gen, err := s.beginSubmitLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if err != nil {
		return snap, err
	}
	s.publish(EventState, snap)

	return s.runSubmission(ctx, sub, gen)
}

// Upload submits an audio file instead of a live recording.
func (s *Session) Upload(ctx context.Context, filename, mimeType string, data []byte) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if err := s.flow.BeginUpload(); err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	sub := s.submissionLocked(pipeline.KindUpload)
	sub.Upload = &pipeline.Upload{Filename: filename, MIMEType: mimeType, Data: data}
	gen := s.gen
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(EventState, snap)

	return s.runSubmission(ctx, sub, gen)
}

func (s *Session) beginSubmitLocked() (*pipeline.Submission, int, error) {
	if err := s.flow.BeginSubmit(); err != nil {
		return nil, 0, err
	}
	kind := pipeline.KindRecording
	if s.flow.Variant() == flow.VariantSurvey {
		kind = pipeline.KindSurvey
	}
	return s.submissionLocked(kind), s.gen, nil
}

func (s *Session) submissionLocked(kind pipeline.Kind) *pipeline.Submission {
	sub := &pipeline.Submission{
		SessionID: s.id,
		Variant:   string(s.flow.Variant()),
		Kind:      kind,
		Contact:   s.flow.Contact(),
	}
	switch kind {
	case pipeline.KindSurvey:
		sub.Answers = s.flow.Answers()
		for _, q := range flow.SurveyQuestions {
			sub.Questions = append(sub.Questions, q.Title)
		}
	case pipeline.KindRecording:
		sub.Recording = s.flow.Recording()
		sub.Questions = append(sub.Questions, flow.VoicePrompts...)
	default:
		sub.Questions = append(sub.Questions, flow.VoicePrompts...)
	}
	return sub
}

func (s *Session) runSubmission(ctx context.Context, sub *pipeline.Submission, gen int) (Snapshot, error) {
	rep, err := s.proc.Process(ctx, sub)

	s.mu.Lock()
	if gen != s.gen || s.flow.State() != flow.StateSubmitting {
		// Reset while the request was in flight.
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("dropping stale submission result")
		return snap, err
	}

	s.report = rep
	s.lastErr = err
	if rep == nil || rep.Failed {
		var result *models.AnalysisResult
		if rep != nil {
			result = rep.Result
		}
		_ = s.flow.Fail(result)
	} else {
		if err != nil {
			s.logger.Warn("submission succeeded with errors", zap.Error(err))
		}
		_ = s.flow.Complete(rep.Result)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(EventState, snap)
	if snap.State == flow.StateError {
		s.publish(EventError, snap.Error)
	} else {
		s.publish(EventResult, snap.Result)
	}
	return snap, err
}

// Report returns the report of the last finished submission.
func (s *Session) Report() (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return nil, ErrNoReport
	}
	return s.report, nil
}

// Reset returns the session to the contact form from any state. An
// in-flight submission is not cancelled; its result is dropped.
func (s *Session) Reset() Snapshot {
	s.mu.Lock()
	s.gen++
	s.flow.Reset()
	s.report = nil
	s.lastErr = nil
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.Discard()
		s.recorder.SetContact(models.ContactInfo{})
	}

	snap := s.Snapshot()
	s.publish(EventState, snap)
	return snap
}

// Wait blocks until background submissions have finished.
func (s *Session) Wait() {
	s.pending.Wait()
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.recorder != nil {
		s.recorder.Close()
	}
	s.pending.Wait()
	s.events.close()
}

func (s *Session) publish(t EventType, data any) {
	s.events.publish(Event{
		Type:      t,
		SessionID: s.id,
		Data:      data,
		Time:      time.Now(),
	})
}
