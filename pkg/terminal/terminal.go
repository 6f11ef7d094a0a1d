// Package terminal walks a user through a session on stdin and stdout.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vibe-report/pkg/flow"
	"vibe-report/pkg/models"
	"vibe-report/pkg/recorder"
	"vibe-report/pkg/report"
	"vibe-report/pkg/session"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

var ErrAborted = errors.New("input closed")

// Exporter renders a report as a PDF. *pipeline.Manager satisfies it.
type Exporter interface {
	Export(ctx context.Context, rep *models.Report, variant string) ([]byte, report.ExportStats, error)
}

type Options struct {
	// Exporter is optional; without it no PDF is offered.
	Exporter  Exporter
	ReportDir string
	Variant   string
	Logger    *zap.Logger
}

var (
	titleColor  = color.New(color.FgCyan, color.Bold)
	promptColor = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	okColor     = color.New(color.FgGreen)
)

type Terminal struct {
	out     io.Writer
	lines   chan string
	session *session.Session
	opts    Options
	logger  *zap.Logger
}

func New(in io.Reader, out io.Writer, s *session.Session, opts Options) *Terminal {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Terminal{
		out:     out,
		lines:   make(chan string),
		session: s,
		opts:    opts,
		logger:  logger,
	}
	go t.scan(in)
	return t
}

func (t *Terminal) scan(in io.Reader) {
	defer close(t.lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		t.lines <- strings.TrimSpace(scanner.Text())
	}
}

// Run loops over flows until the user declines to start over or input
// ends.
func (t *Terminal) Run(ctx context.Context) error {
	events, unsubscribe := t.session.Subscribe()
	defer unsubscribe()

	for {
		if err := t.runOnce(ctx, events); err != nil {
			return err
		}

		again, err := t.confirm(ctx, "Start over?")
		if err != nil || !again {
			return nil
		}
		t.session.Reset()
	}
}

func (t *Terminal) runOnce(ctx context.Context, events <-chan session.Event) error {
	titleColor.Fprintln(t.out, "VIBE REPORT")
	if err := t.contactForm(ctx); err != nil {
		return err
	}

	var snap session.Snapshot
	var err error
	if t.session.Snapshot().Variant == flow.VariantSurvey {
		snap, err = t.survey(ctx)
	} else {
		snap, err = t.voice(ctx, events)
	}
	if err != nil {
		return err
	}

	return t.results(ctx, snap)
}

func (t *Terminal) contactForm(ctx context.Context) error {
	for {
		var c models.ContactInfo
		var err error
		if c.Name, err = t.ask(ctx, "Full name"); err != nil {
			return err
		}
		if c.Email, err = t.ask(ctx, "Email"); err != nil {
			return err
		}
		if c.Phone, err = t.ask(ctx, "Phone"); err != nil {
			return err
		}

		_, err = t.session.SubmitContact(c)
		var verrs models.ValidationErrors
		if errors.As(err, &verrs) {
			for _, field := range []string{"name", "email", "phone"} {
				if msg, ok := verrs[field]; ok {
					errorColor.Fprintln(t.out, "  "+msg)
				}
			}
			continue
		}
		return err
	}
}

func (t *Terminal) survey(ctx context.Context) (session.Snapshot, error) {
	for i, q := range flow.SurveyQuestions {
		for {
			fmt.Fprintf(t.out, "\n%d. %s\n", i+1, q.Title)
			for n, opt := range q.Options {
				fmt.Fprintf(t.out, "   %d) %s\n", n+1, opt)
			}
			line, err := t.ask(ctx, "Choice")
			if err != nil {
				return session.Snapshot{}, err
			}
			n, err := strconv.Atoi(line)
			if err != nil || n < 1 || n > len(q.Options) {
				errorColor.Fprintf(t.out, "  Pick a number from 1 to %d\n", len(q.Options))
				continue
			}
			if _, err := t.session.SetAnswer(q.Key, q.Options[n-1]); err != nil {
				return session.Snapshot{}, err
			}
			break
		}
	}

	fmt.Fprintln(t.out, "\nAnalyzing your answers...")
	return t.session.Submit(ctx)
}

func (t *Terminal) voice(ctx context.Context, events <-chan session.Event) (session.Snapshot, error) {
	snap := t.session.Snapshot()
	for snap.State == flow.StateQuestionBrowser {
		fmt.Fprintf(t.out, "\n[%s] %s\n", snap.Progress.Label, snap.Question)
		cmd, err := t.ask(ctx, "Enter=next, p=previous, s=skip to recording")
		if err != nil {
			return snap, err
		}
		switch strings.ToLower(cmd) {
		case "p":
			snap, err = t.session.Prev()
		case "s":
			snap, err = t.session.SkipAll()
		default:
			snap, err = t.session.Next()
		}
		if err != nil {
			return snap, err
		}
	}

	for {
		cmd, err := t.ask(ctx, "Enter to start recording, or u <file> to upload audio")
		if err != nil {
			return snap, err
		}

		if path, ok := strings.CutPrefix(cmd, "u "); ok {
			snap, err = t.upload(ctx, strings.TrimSpace(path))
			if err != nil && snap.State != flow.StateResults && snap.State != flow.StateError {
				errorColor.Fprintln(t.out, "  "+err.Error())
				continue
			}
			return snap, nil
		}

		if _, err := t.session.StartRecording(ctx); err != nil {
			if errors.Is(err, recorder.ErrPermission) {
				errorColor.Fprintln(t.out, "  Unable to access microphone. Please check permissions.")
				continue
			}
			return snap, err
		}

		if err := t.record(ctx, events); err != nil {
			return snap, err
		}
		if !t.session.Snapshot().CanSubmit {
			errorColor.Fprintln(t.out, "  Recording too short, try again.")
			continue
		}

		fmt.Fprintln(t.out, "Analyzing your recording...")
		return t.session.Submit(ctx)
	}
}

// record shows the countdown until the user presses Enter or the recorder
// stops on its own.
func (t *Terminal) record(ctx context.Context, events <-chan session.Event) error {
	current := t.session.Snapshot().Recorder
	if current == nil {
		return session.ErrNoRecorder
	}
	fmt.Fprintf(t.out, "Recording... press Enter to stop (max %ds)\n", current.MaxDuration)

	for {
		select {
		case <-ctx.Done():
			t.session.StopRecording()
			return ctx.Err()

		case _, ok := <-t.lines:
			if _, err := t.session.StopRecording(); err != nil && !errors.Is(err, session.ErrNotRecording) {
				return err
			}
			if !ok {
				return ErrAborted
			}
			fmt.Fprintln(t.out)
			return nil

		case e, ok := <-events:
			if !ok {
				return session.ErrClosed
			}
			switch e.Type {
			case session.EventTick:
				if snap, ok := e.Data.(recorder.Snapshot); ok {
					fmt.Fprintf(t.out, "\r  %s / %s", clock(snap.Elapsed), clock(snap.MaxDuration))
				}
			case session.EventState:
				snap, ok := e.Data.(session.Snapshot)
				if !ok || snap.Recorder == nil || snap.Recorder.SessionID != current.SessionID {
					continue
				}
				if snap.HasRecording && !snap.Recorder.Active {
					fmt.Fprintln(t.out, "\n  Time is up.")
					return nil
				}
			}
		}
	}
}

func (t *Terminal) upload(ctx context.Context, path string) (session.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return t.session.Snapshot(), fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}

	fmt.Fprintf(t.out, "Uploading %s (%d bytes)...\n", filepath.Base(path), len(data))
	return t.session.Upload(ctx, filepath.Base(path), mimeType, data)
}

func (t *Terminal) results(ctx context.Context, snap session.Snapshot) error {
	fmt.Fprintln(t.out)
	if snap.State == flow.StateError {
		errorColor.Fprintln(t.out, "The analysis could not be completed.")
	} else {
		okColor.Fprintln(t.out, "Your vibe report is ready.")
	}
	fmt.Fprintln(t.out)

	if err := report.WriteText(t.out, report.Build(snap.Result)); err != nil {
		return err
	}

	if t.opts.Exporter == nil {
		return nil
	}
	save, err := t.confirm(ctx, "Save as PDF?")
	if err != nil || !save {
		return nil
	}
	return t.savePDF(ctx)
}

func (t *Terminal) savePDF(ctx context.Context) error {
	rep, err := t.session.Report()
	if err != nil {
		return err
	}

	data, stats, err := t.opts.Exporter.Export(ctx, rep, t.opts.Variant)
	if err != nil {
		errorColor.Fprintln(t.out, "  Failed to generate PDF. Please try again.")
		t.logger.Error("pdf export failed", zap.Error(err))
		return nil
	}

	dir := t.opts.ReportDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, report.Filename(t.opts.Variant, rep.Contact.Name, time.Now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}

	okColor.Fprintf(t.out, "  Saved %s (%d pages)\n", path, stats.Pages)
	return nil
}

func (t *Terminal) ask(ctx context.Context, prompt string) (string, error) {
	promptColor.Fprintf(t.out, "%s: ", prompt)
	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", ErrAborted
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// confirm treats closed input as no.
func (t *Terminal) confirm(ctx context.Context, prompt string) (bool, error) {
	line, err := t.ask(ctx, prompt+" [y/N]")
	if errors.Is(err, ErrAborted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func clock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
