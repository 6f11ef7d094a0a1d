// Package pipeline runs a collected submission through validation, the
// analysis backend and the report store, and serializes PDF exports.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vibe-report/pkg/config"
	"vibe-report/pkg/models"
	"vibe-report/pkg/report"
	"vibe-report/pkg/storage"

	"go.uber.org/zap"
)

var (
	ErrEmptyRecording = errors.New("recording is empty")
	ErrIncomplete     = errors.New("submission is incomplete")
	ErrNotStarted     = errors.New("pipeline not started")
)

// Submitter is the analysis backend. *client.Client satisfies it.
type Submitter interface {
	AnalyzeAudio(ctx context.Context, rec *models.Recording, contact models.ContactInfo) (*models.AnalysisResult, error)
	AnalyzeAudioFile(ctx context.Context, filename, mimeType string, data []byte, contact models.ContactInfo) (*models.AnalysisResult, error)
	AnalyzeSurvey(ctx context.Context, payload models.SurveyPayload) (*models.AnalysisResult, error)
	NewSurveyPayload(contact models.ContactInfo, answers models.SurveyAnswers) models.SurveyPayload
}

type Kind string

const (
	KindRecording Kind = "recording"
	KindUpload    Kind = "upload"
	KindSurvey    Kind = "survey"
)

// Upload is an audio file supplied instead of a live recording.
type Upload struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Submission is everything one flow collected before submitting.
type Submission struct {
	SessionID string
	Variant   string
	Kind      Kind
	Contact   models.ContactInfo
	Recording *models.Recording
	Upload    *Upload
	Answers   models.SurveyAnswers
	Questions []string
}

// Message carries a submission between stages.
type Message struct {
	Submission *Submission
	Result     *models.AnalysisResult
	Report     *models.Report
	Stage      string
	Err        error
}

type stage func(ctx context.Context, msg *Message)

type Manager struct {
	config    config.ExportConfig
	submitter Submitter
	store     storage.Store
	logger    *zap.Logger

	stages     []stage
	exportPool *WorkerPool[*exportJob]

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(cfg config.ExportConfig, submitter Submitter, store storage.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		config:    cfg,
		submitter: submitter,
		store:     store,
		logger:    logger,
	}
	m.stages = []stage{m.validateSubmission, m.submitToBackend, m.storeReport}
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("pipeline manager starting", zap.Int("export_workers", m.config.Workers))

	m.exportPool = NewWorkerPool(m.config.Workers, m.exportReport)
	m.exportPool.Start(m.ctx)
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	pool, cancel := m.exportPool, m.cancel
	m.mu.Unlock()

	m.logger.Info("pipeline manager stopping")
	if pool != nil {
		pool.Stop()
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info("pipeline manager stopped")
}

// Process runs sub through every stage. The returned report is never nil:
// a failed submission carries the synthetic error result and is stored
// like any other.
func (m *Manager) Process(ctx context.Context, sub *Submission) (*models.Report, error) {
	msg := &Message{Submission: sub}
	log := m.logger.With(zap.String("session_id", sub.SessionID), zap.String("kind", string(sub.Kind)))

	start := time.Now()
	for _, run := range m.stages {
		run(ctx, msg)
		log.Debug("stage finished", zap.String("stage", msg.Stage), zap.Error(msg.Err))
	}

	if msg.Err != nil {
		log.Warn("submission failed", zap.Error(msg.Err), zap.Duration("took", time.Since(start)))
	} else {
		log.Info("submission completed", zap.Duration("took", time.Since(start)))
	}
	return msg.Report, msg.Err
}

// Export renders rep as a PDF on the export pool.
func (m *Manager) Export(ctx context.Context, rep *models.Report, variant string) ([]byte, report.ExportStats, error) {
	m.mu.RLock()
	pool := m.exportPool
	m.mu.RUnlock()
	if pool == nil {
		return nil, report.ExportStats{}, ErrNotStarted
	}

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	job := &exportJob{
		ctx:     ctx,
		report:  rep,
		variant: variant,
		done:    make(chan exportResult, 1),
	}
	if err := pool.Submit(ctx, job); err != nil {
		return nil, report.ExportStats{}, fmt.Errorf("queue export: %w", err)
	}

	select {
	case res := <-job.done:
		return res.data, res.stats, res.err
	case <-ctx.Done():
		return nil, report.ExportStats{}, fmt.Errorf("%w: %v", report.ErrExport, ctx.Err())
	}
}

type exportJob struct {
	ctx     context.Context
	report  *models.Report
	variant string
	done    chan exportResult
}

type exportResult struct {
	data  []byte
	stats report.ExportStats
	err   error
}

func (m *Manager) exportReport(_ context.Context, job *exportJob) {
	if err := job.ctx.Err(); err != nil {
		job.done <- exportResult{err: fmt.Errorf("%w: %v", report.ErrExport, err)}
		return
	}

	var buf bytes.Buffer
	stats, err := report.ExportPDF(&buf, job.report.Result, PDFOptions(job.report, job.variant))
	if err != nil {
		m.logger.Error("pdf export failed", zap.String("session_id", job.report.SessionID), zap.Error(err))
		job.done <- exportResult{err: err}
		return
	}

	m.logger.Info("pdf exported",
		zap.String("session_id", job.report.SessionID),
		zap.Int("pages", stats.Pages),
		zap.Int("bytes", buf.Len()),
	)
	job.done <- exportResult{data: buf.Bytes(), stats: stats}
}

// PDFOptions derives export options from a stored report.
func PDFOptions(rep *models.Report, variant string) report.PDFOptions {
	method := "AI-Powered Voice Analysis"
	if rep.Variant == string(KindSurvey) {
		method = "AI-Powered Survey Analysis"
	}
	return report.PDFOptions{
		Contact:     rep.Contact,
		Questions:   rep.Questions,
		GeneratedAt: time.Now(),
		Variant:     variant,
		Method:      method,
	}
}
