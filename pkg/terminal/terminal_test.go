package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vibe-report/pkg/flow"
	"vibe-report/pkg/models"
	"vibe-report/pkg/pipeline"
	"vibe-report/pkg/recorder"
	"vibe-report/pkg/report"
	"vibe-report/pkg/session"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

type fakeProcessor struct {
	mu   sync.Mutex
	subs []*pipeline.Submission
}

func (p *fakeProcessor) Process(_ context.Context, sub *pipeline.Submission) (*models.Report, error) {
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	result := &models.AnalysisResult{
		Transcription: "Sunset chaser",
		Analysis:      &models.Analysis{OverallScore: models.N(87)},
	}
	return models.NewReport(sub.SessionID, sub.Variant, sub.Contact, result, false), nil
}

func (p *fakeProcessor) last() *pipeline.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

type fakeExporter struct{ calls atomic.Int32 }

func (e *fakeExporter) Export(_ context.Context, _ *models.Report, _ string) ([]byte, report.ExportStats, error) {
	e.calls.Add(1)
	return []byte("%PDF-1.3 fake"), report.ExportStats{Pages: 1}, nil
}

// syncBuffer guards output written by the terminal goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func surveyInput(choices ...string) string {
	lines := []string{
		"Asha Rao", "bad", "555",
		"Asha Rao", "asha@example.com", "555",
	}
	lines = append(lines, choices...)
	for range flow.SurveyQuestions {
		lines = append(lines, "1")
	}
	return strings.Join(lines, "\n")
}

func TestSurveyRun(t *testing.T) {
	proc := &fakeProcessor{}
	exp := &fakeExporter{}
	dir := t.TempDir()

	s := session.New("t-survey", flow.VariantSurvey, session.Options{Processor: proc})
	defer s.Close()

	input := surveyInput("9") + "\ny\nn\n"
	var out syncBuffer
	term := New(strings.NewReader(input), &out, s, Options{
		Exporter:  exp,
		ReportDir: dir,
		Variant:   report.VariantCompact,
	})

	require.NoError(t, term.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Invalid email format")
	assert.Contains(t, text, "Pick a number from 1 to")
	assert.Contains(t, text, "Your vibe report is ready.")
	assert.Contains(t, text, "Sunset chaser")
	assert.Contains(t, text, "87/100")

	sub := proc.last()
	require.NotNil(t, sub)
	assert.Equal(t, pipeline.KindSurvey, sub.Kind)
	assert.Equal(t, flow.SurveyQuestions[0].Options[0], sub.Answers[flow.SurveyQuestions[0].Key])

	assert.EqualValues(t, 1, exp.calls.Load())
	data, err := os.ReadFile(filepath.Join(dir, "vibe-report-asha-rao.pdf"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestRunStartOver(t *testing.T) {
	proc := &fakeProcessor{}
	s := session.New("t-again", flow.VariantSurvey, session.Options{Processor: proc})
	defer s.Close()

	input := surveyInput() + "\ny\n" + surveyInput() + "\nn\n"
	term := New(strings.NewReader(input), io.Discard, s, Options{})

	require.NoError(t, term.Run(context.Background()))
	proc.mu.Lock()
	assert.Len(t, proc.subs, 2)
	proc.mu.Unlock()
}

func TestInputClosedMidFlow(t *testing.T) {
	s := session.New("t-eof", flow.VariantSurvey, session.Options{Processor: &fakeProcessor{}})
	defer s.Close()

	term := New(strings.NewReader("Asha Rao\n"), io.Discard, s, Options{})
	assert.ErrorIs(t, term.Run(context.Background()), ErrAborted)
}

func TestVoiceUpload(t *testing.T) {
	proc := &fakeProcessor{}
	s := session.New("t-upload", flow.VariantVoice, session.Options{Processor: proc, Device: &fakeDevice{}})
	defer s.Close()

	audio := filepath.Join(t.TempDir(), "take.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	input := strings.Join([]string{
		"Asha Rao", "asha@example.com", "555",
		"", "p", "s",
		"u " + filepath.Join(t.TempDir(), "missing.wav"),
		"u " + audio,
		"n",
	}, "\n")
	var out syncBuffer
	term := New(strings.NewReader(input), &out, s, Options{})

	require.NoError(t, term.Run(context.Background()))
	assert.Contains(t, out.String(), "[Question 2 of 6]")
	assert.Contains(t, out.String(), "read ")

	sub := proc.last()
	require.NotNil(t, sub)
	assert.Equal(t, pipeline.KindUpload, sub.Kind)
	assert.Equal(t, "take.wav", sub.Upload.Filename)
	assert.Equal(t, []byte("RIFF"), sub.Upload.Data)
}

type fakeTrack struct{}

func (fakeTrack) ID() string  { return "mic" }
func (fakeTrack) Stop() error { return nil }

type fakeStream struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.pr.Read(p) }
func (s *fakeStream) Finalize() error            { return s.pw.Close() }
func (s *fakeStream) Tracks() []recorder.Track   { return []recorder.Track{fakeTrack{}} }

type fakeDevice struct{}

func (fakeDevice) Open(context.Context) (recorder.Stream, error) {
	pr, pw := io.Pipe()
	go func() { _, _ = pw.Write([]byte("webm")) }()
	return &fakeStream{pr: pr, pw: pw}, nil
}

func TestVoiceRecordingAutoStops(t *testing.T) {
	proc := &fakeProcessor{}
	s := session.New("t-record", flow.VariantVoice, session.Options{
		Processor: proc,
		Device:    fakeDevice{},
		Recorder: recorder.Options{
			MaxDuration:      3,
			TickInterval:     10 * time.Millisecond,
			ProgressInterval: 10 * time.Millisecond,
		},
	})
	defer s.Close()

	pr, pw := io.Pipe()
	var out syncBuffer
	term := New(pr, &out, s, Options{})

	done := make(chan error, 1)
	go func() { done <- term.Run(context.Background()) }()

	fmt.Fprintln(pw, "Asha Rao")
	fmt.Fprintln(pw, "asha@example.com")
	fmt.Fprintln(pw, "555")
	fmt.Fprintln(pw, "s")
	fmt.Fprintln(pw, "")

	require.Eventually(t, func() bool {
		return s.Snapshot().State == flow.StateResults
	}, 2*time.Second, 10*time.Millisecond)

	fmt.Fprintln(pw, "n")
	pw.Close()
	require.NoError(t, <-done)

	assert.Contains(t, out.String(), "Time is up.")
	assert.Contains(t, out.String(), "00:03")
	sub := proc.last()
	require.NotNil(t, sub)
	assert.Equal(t, pipeline.KindRecording, sub.Kind)
	assert.Equal(t, 3, sub.Recording.Elapsed)
}
