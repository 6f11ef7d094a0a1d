package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vibe-report/pkg/client"
	"vibe-report/pkg/config"
	"vibe-report/pkg/models"
	"vibe-report/pkg/report"
	"vibe-report/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []Kind
	payload models.SurveyPayload
	result  *models.AnalysisResult
	err     error
}

func (f *fakeSubmitter) record(k Kind) (*models.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, k)
	if f.err != nil {
		return client.ErrorResult(f.err), f.err
	}
	return f.result, nil
}

func (f *fakeSubmitter) AnalyzeAudio(_ context.Context, _ *models.Recording, _ models.ContactInfo) (*models.AnalysisResult, error) {
	return f.record(KindRecording)
}

func (f *fakeSubmitter) AnalyzeAudioFile(_ context.Context, _, _ string, _ []byte, _ models.ContactInfo) (*models.AnalysisResult, error) {
	return f.record(KindUpload)
}

func (f *fakeSubmitter) AnalyzeSurvey(_ context.Context, p models.SurveyPayload) (*models.AnalysisResult, error) {
	f.mu.Lock()
	f.payload = p
	f.mu.Unlock()
	return f.record(KindSurvey)
}

func (f *fakeSubmitter) NewSurveyPayload(c models.ContactInfo, a models.SurveyAnswers) models.SurveyPayload {
	return models.NewSurveyPayload(c, a, "test-agent", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

var contact = models.ContactInfo{Name: "Asha Rao", Email: "asha@example.com", Phone: "555"}

func okResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		Transcription: "sunsets",
		Analysis:      &models.Analysis{OverallScore: models.N(87)},
	}
}

func fullAnswers() models.SurveyAnswers {
	a := models.NewSurveyAnswers()
	for _, k := range models.SurveyKeys {
		a[k] = "x"
	}
	return a
}

func newManager(t *testing.T, sub Submitter, store storage.Store) *Manager {
	t.Helper()
	m := NewManager(config.ExportConfig{Workers: 2, Timeout: 10 * time.Second}, sub, store, nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func TestProcessRecording(t *testing.T) {
	sub := &fakeSubmitter{result: okResult()}
	store := storage.NewMemoryStore()
	m := newManager(t, sub, store)

	rep, err := m.Process(context.Background(), &Submission{
		SessionID: "s1",
		Variant:   "voice",
		Kind:      KindRecording,
		Contact:   contact,
		Recording: models.NewRecording([]byte("audio"), 3),
		Questions: []string{"Who are you?"},
	})
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.False(t, rep.Failed)
	assert.Equal(t, []string{"Who are you?"}, rep.Questions)
	assert.Equal(t, []Kind{KindRecording}, sub.calls)

	stored, err := store.GetReport("s1")
	require.NoError(t, err)
	assert.Equal(t, "sunsets", stored.Result.TranscriptionText())
}

func TestProcessEmptyRecordingNeverSubmits(t *testing.T) {
	sub := &fakeSubmitter{result: okResult()}
	m := newManager(t, sub, nil)

	for _, rec := range []*models.Recording{nil, models.NewRecording(nil, 2)} {
		rep, err := m.Process(context.Background(), &Submission{
			SessionID: "s2",
			Kind:      KindRecording,
			Contact:   contact,
			Recording: rec,
		})
		assert.ErrorIs(t, err, ErrEmptyRecording)
		require.NotNil(t, rep)
		assert.True(t, rep.Failed)
	}
	assert.Empty(t, sub.calls)
}

func TestProcessIncompleteSurvey(t *testing.T) {
	sub := &fakeSubmitter{result: okResult()}
	m := newManager(t, sub, nil)

	answers := fullAnswers()
	answers[models.KeyBudget] = ""

	_, err := m.Process(context.Background(), &Submission{
		SessionID: "s3",
		Kind:      KindSurvey,
		Contact:   contact,
		Answers:   answers,
	})
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), models.KeyBudget)
	assert.Empty(t, sub.calls)
}

func TestProcessInvalidContact(t *testing.T) {
	m := newManager(t, &fakeSubmitter{result: okResult()}, nil)

	_, err := m.Process(context.Background(), &Submission{
		Kind:    KindSurvey,
		Contact: models.ContactInfo{Name: "A", Email: "nope", Phone: "1"},
		Answers: fullAnswers(),
	})
	var verrs models.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "Invalid email format", verrs["email"])
}

func TestProcessSurvey(t *testing.T) {
	sub := &fakeSubmitter{result: okResult()}
	m := newManager(t, sub, nil)

	rep, err := m.Process(context.Background(), &Submission{
		SessionID: "s4",
		Variant:   "survey",
		Kind:      KindSurvey,
		Contact:   contact,
		Answers:   fullAnswers(),
	})
	require.NoError(t, err)
	assert.Equal(t, "survey", rep.Variant)
	assert.Equal(t, "test-agent", sub.payload.Metadata.UserAgent)
	assert.Equal(t, "Asha Rao", sub.payload.User.Name)
}

func TestProcessBackendFailureStoresErrorResult(t *testing.T) {
	sub := &fakeSubmitter{err: client.ErrTimeout}
	store := storage.NewMemoryStore()
	m := newManager(t, sub, store)

	rep, err := m.Process(context.Background(), &Submission{
		SessionID: "s5",
		Kind:      KindUpload,
		Contact:   contact,
		Upload:    &Upload{Filename: "a.wav", MIMEType: "audio/wav", Data: []byte("x")},
	})
	assert.ErrorIs(t, err, client.ErrTimeout)
	assert.True(t, rep.Failed)
	assert.Contains(t, rep.Result.TranscriptionText(), "timed out")

	stored, err := store.GetReport("s5")
	require.NoError(t, err)
	assert.True(t, stored.Failed)
}

type failingStore struct{ storage.Store }

func (failingStore) StoreReport(*models.Report) error { return errors.New("disk full") }

func TestProcessStoreFailure(t *testing.T) {
	m := newManager(t, &fakeSubmitter{result: okResult()}, failingStore{})

	rep, err := m.Process(context.Background(), &Submission{
		SessionID: "s6",
		Kind:      KindRecording,
		Contact:   contact,
		Recording: models.NewRecording([]byte("a"), 1),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, rep.Failed)
}

func TestExport(t *testing.T) {
	m := newManager(t, &fakeSubmitter{}, nil)

	rep := models.NewReport("s7", "voice", contact, okResult(), false)
	data, stats, err := m.Export(context.Background(), rep, report.VariantProfessional)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.GreaterOrEqual(t, stats.Pages, 1)
}

func TestExportNilResult(t *testing.T) {
	m := newManager(t, &fakeSubmitter{}, nil)

	_, _, err := m.Export(context.Background(), &models.Report{SessionID: "s8"}, "")
	assert.ErrorIs(t, err, report.ErrExport)
}

func TestExportBeforeStart(t *testing.T) {
	m := NewManager(config.ExportConfig{Workers: 1}, &fakeSubmitter{}, nil, nil)
	_, _, err := m.Export(context.Background(), &models.Report{}, "")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestPDFOptionsMethod(t *testing.T) {
	assert.Equal(t, "AI-Powered Survey Analysis", PDFOptions(&models.Report{Variant: "survey"}, "").Method)
	assert.Equal(t, "AI-Powered Voice Analysis", PDFOptions(&models.Report{Variant: "voice"}, "").Method)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	var wg sync.WaitGroup

	pool := NewWorkerPool(2, func(_ context.Context, _ int) {
		defer wg.Done()
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
	})
	pool.Start(context.Background())

	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(context.Background(), i))
	}
	wg.Wait()
	pool.Stop()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.ErrorIs(t, pool.Submit(context.Background(), 9), ErrPoolStopped)
}
