package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vibe-report/pkg/client"
	"vibe-report/pkg/models"

	"go.uber.org/zap"
)

func (m *Manager) validateSubmission(_ context.Context, msg *Message) {
	msg.Stage = "validation"
	sub := msg.Submission

	if err := sub.Contact.Validate(); err != nil {
		msg.Err = err
		return
	}

	switch sub.Kind {
	case KindRecording:
		if sub.Recording == nil || sub.Recording.Size == 0 || len(sub.Recording.Data) == 0 {
			msg.Err = ErrEmptyRecording
		}
	case KindUpload:
		if sub.Upload == nil || len(sub.Upload.Data) == 0 {
			msg.Err = ErrEmptyRecording
		}
	case KindSurvey:
		if missing := sub.Answers.Missing(); len(missing) > 0 {
			msg.Err = fmt.Errorf("%w: unanswered %s", ErrIncomplete, strings.Join(missing, ", "))
		}
	default:
		msg.Err = fmt.Errorf("%w: unknown submission kind %q", ErrIncomplete, sub.Kind)
	}
}

func (m *Manager) submitToBackend(ctx context.Context, msg *Message) {
	if msg.Err != nil {
		msg.Result = client.ErrorResult(msg.Err)
		return
	}
	msg.Stage = "submission"
	sub := msg.Submission

	var (
		result *models.AnalysisResult
		err    error
	)
	switch sub.Kind {
	case KindRecording:
		result, err = m.submitter.AnalyzeAudio(ctx, sub.Recording, sub.Contact)
	case KindUpload:
		result, err = m.submitter.AnalyzeAudioFile(ctx, sub.Upload.Filename, sub.Upload.MIMEType, sub.Upload.Data, sub.Contact)
	case KindSurvey:
		result, err = m.submitter.AnalyzeSurvey(ctx, m.submitter.NewSurveyPayload(sub.Contact, sub.Answers))
	}

	if result == nil {
		if err == nil {
			err = errors.New("empty analysis result")
		}
		result = client.ErrorResult(err)
	}
	msg.Result = result
	msg.Err = err
}

func (m *Manager) storeReport(_ context.Context, msg *Message) {
	sub := msg.Submission
	if msg.Result == nil {
		msg.Result = client.ErrorResult(msg.Err)
	}

	questions := sub.Questions
	if len(questions) == 0 {
		questions = msg.Result.Questions
	}
	rep := models.NewReport(sub.SessionID, sub.Variant, sub.Contact.Trimmed(), msg.Result, msg.Err != nil)
	rep.Questions = questions
	msg.Report = rep

	if m.store == nil {
		return
	}
	msg.Stage = "storage"
	if err := m.store.StoreReport(rep); err != nil {
		m.logger.Error("failed to store report", zap.String("session_id", sub.SessionID), zap.Error(err))
		msg.Err = errors.Join(msg.Err, fmt.Errorf("store report: %w", err))
	}
}
