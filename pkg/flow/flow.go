// Package flow is the state machine behind one pass through the kiosk:
// contact form, then voice prompts and recording or the survey, then
// submission and the result.
package flow

import (
	"errors"
	"fmt"
	"math"

	"vibe-report/pkg/models"
)

type State string

const (
	StateContactForm     State = "contact_form"
	StateQuestionBrowser State = "question_browser"
	StateRecorder        State = "recorder"
	StateMcqSet          State = "mcq_set"
	StateSubmitting      State = "submitting"
	StateResults         State = "results"
	StateError           State = "error"
)

type Variant string

const (
	VariantVoice  Variant = "voice"
	VariantSurvey Variant = "survey"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrIncomplete        = errors.New("input incomplete")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrInvalidOption     = errors.New("option not allowed for question")
	ErrUnknownVariant    = errors.New("unknown variant")
)

func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantVoice, "":
		return VariantVoice, nil
	case VariantSurvey:
		return VariantSurvey, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// Progress describes the position in the voice prompts.
type Progress struct {
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
	Percent int    `json:"percent"`
}

// Flow is not safe for concurrent use; the session serializes access.
type Flow struct {
	kind Variant

	state     State
	contact   models.ContactInfo
	question  int
	answers   models.SurveyAnswers
	recording *models.Recording
	capturing bool
	result    *models.AnalysisResult
}

func New(variant Variant) *Flow {
	f := &Flow{kind: variant}
	f.Reset()
	return f
}

func (f *Flow) State() State { return f.state }
func (f *Flow) Variant() Variant { return f.kind }
func (f *Flow) Contact() models.ContactInfo { return f.contact }
func (f *Flow) Recording() *models.Recording { return f.recording }
func (f *Flow) Result() *models.AnalysisResult { return f.result }
func (f *Flow) Capturing() bool { return f.capturing }
func (f *Flow) QuestionIndex() int { return f.question }
func (f *Flow) Question() string { return VoicePrompts[f.question] }

func (f *Flow) Answers() models.SurveyAnswers {
	out := make(models.SurveyAnswers, len(f.answers))
	for k, v := range f.answers {
		out[k] = v
	}
	return out
}

func (f *Flow) Progress() Progress {
	i := f.question + 1
	total := len(VoicePrompts)
	return Progress{
		Index:   i,
		Total:   total,
		Label:   fmt.Sprintf("Question %d of %d", i, total),
		Percent: int(math.Round(float64(i) / float64(total) * 100)),
	}
}

func (f *Flow) expect(states ...State) error {
	for _, s := range states {
		if f.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: not allowed in state %s", ErrInvalidTransition, f.state)
}

// SubmitContact validates the contact details and fixes them for the rest
// of the flow.
func (f *Flow) SubmitContact(c models.ContactInfo) error {
	if err := f.expect(StateContactForm); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	f.contact = c.Trimmed()
	if f.kind == VariantSurvey {
		f.state = StateMcqSet
	} else {
		f.state = StateQuestionBrowser
	}
	return nil
}

func (f *Flow) Next() error {
	if err := f.expect(StateQuestionBrowser); err != nil {
		return err
	}
	if f.question == len(VoicePrompts)-1 {
		f.state = StateRecorder
		return nil
	}
	f.question++
	return nil
}

func (f *Flow) Prev() error {
	if err := f.expect(StateQuestionBrowser); err != nil {
		return err
	}
	if f.question > 0 {
		f.question--
	}
	return nil
}

func (f *Flow) SkipAll() error {
	if err := f.expect(StateQuestionBrowser); err != nil {
		return err
	}
	f.state = StateRecorder
	return nil
}

func (f *Flow) SetAnswer(key, option string) error {
	if err := f.expect(StateMcqSet); err != nil {
		return err
	}
	q, ok := LookupQuestion(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, key)
	}
	if !q.Allows(option) {
		return fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, option)
	}
	f.answers[key] = option
	return nil
}

// RecordingStarted marks the recorder busy; a previous take is discarded.
func (f *Flow) RecordingStarted() error {
	if err := f.expect(StateRecorder); err != nil {
		return err
	}
	if f.capturing {
		return fmt.Errorf("%w: already recording", ErrInvalidTransition)
	}
	f.capturing = true
	f.recording = nil
	return nil
}

func (f *Flow) RecordingFinished(rec *models.Recording) error {
	if err := f.expect(StateRecorder); err != nil {
		return err
	}
	f.capturing = false
	f.recording = rec
	return nil
}

// CanSubmit gates BeginSubmit for the current variant.
func (f *Flow) CanSubmit() bool {
	switch f.state {
	case StateMcqSet:
		return f.answers.Complete() && f.contact.Complete()
	case StateRecorder:
		return !f.capturing && f.recording != nil && f.recording.Elapsed > 0
	}
	return false
}

func (f *Flow) BeginSubmit() error {
	if err := f.expect(StateMcqSet, StateRecorder); err != nil {
		return err
	}
	if !f.CanSubmit() {
		if f.state == StateMcqSet {
			return fmt.Errorf("%w: unanswered %v", ErrIncomplete, f.answers.Missing())
		}
		return fmt.Errorf("%w: no finished recording", ErrIncomplete)
	}
	f.state = StateSubmitting
	return nil
}

// BeginUpload submits an uploaded file in place of a live recording.
func (f *Flow) BeginUpload() error {
	if err := f.expect(StateRecorder); err != nil {
		return err
	}
	if f.capturing {
		return fmt.Errorf("%w: recording in progress", ErrInvalidTransition)
	}
	f.state = StateSubmitting
	return nil
}

func (f *Flow) Complete(result *models.AnalysisResult) error {
	if err := f.expect(StateSubmitting); err != nil {
		return err
	}
	f.result = result
	f.state = StateResults
	return nil
}

// Fail records the synthetic error result; it renders like any other.
func (f *Flow) Fail(result *models.AnalysisResult) error {
	if err := f.expect(StateSubmitting); err != nil {
		return err
	}
	f.result = result
	f.state = StateError
	return nil
}

// Reset returns to the contact form from any state and clears all input.
func (f *Flow) Reset() {
	f.state = StateContactForm
	f.contact = models.ContactInfo{}
	f.question = 0
	f.answers = models.NewSurveyAnswers()
	f.recording = nil
	f.capturing = false
	f.result = nil
}
