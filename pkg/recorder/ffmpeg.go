package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FFmpegDevice captures the default audio input through an ffmpeg child
// process that encodes Opus into a WebM container on stdout.
type FFmpegDevice struct {
	Path   string
	Input  string
	Logger *zap.Logger
}

func NewFFmpegDevice(path, input string, logger *zap.Logger) *FFmpegDevice {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegDevice{Path: path, Input: input, Logger: logger}
}

func (d *FFmpegDevice) args() ([]string, error) {
	var input []string

	switch runtime.GOOS {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", d.inputOr(":0")}
	case "linux":
		input = []string{"-f", "alsa", "-i", d.inputOr("default")}
	case "windows":
		input = []string{"-f", "dshow", "-i", "audio=" + d.inputOr("Microphone")}
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-ac", "1",
		"-c:a", "libopus",
		"-b:a", "64k",
		"-f", "webm",
		"pipe:1",
	)
	return args, nil
}

func (d *FFmpegDevice) inputOr(def string) string {
	if d.Input != "" {
		return d.Input
	}
	return def
}

func (d *FFmpegDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := exec.LookPath(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}

	args, err := d.args()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}

	// Not CommandContext: the capture must outlive the request that started it.
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrPermission, err)
	}

	d.Logger.Debug("ffmpeg capture started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("args", strings.Join(args, " ")),
	)

	s := &ffmpegStream{
		stdin:  stdin,
		stdout: stdout,
	}
	s.track = &processTrack{cmd: cmd, stderr: stderr, logger: d.Logger}
	return s, nil
}

type ffmpegStream struct {
	stdin  io.WriteCloser
	stdout io.Reader
	track  *processTrack

	finalizeOnce sync.Once
	finalizeErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Finalize sends ffmpeg's interactive quit command so it writes the
// container trailer and exits, which ends stdout with EOF.
func (s *ffmpegStream) Finalize() error {
	s.finalizeOnce.Do(func() {
		if _, err := io.WriteString(s.stdin, "q"); err != nil {
			s.finalizeErr = fmt.Errorf("signal ffmpeg: %w", err)
		}
		if err := s.stdin.Close(); err != nil && s.finalizeErr == nil {
			s.finalizeErr = fmt.Errorf("close ffmpeg stdin: %w", err)
		}
	})
	return s.finalizeErr
}

func (s *ffmpegStream) Tracks() []Track {
	return []Track{s.track}
}

type processTrack struct {
	cmd    *exec.Cmd
	stderr *limitedBuffer
	logger *zap.Logger

	once sync.Once
	err  error
}

func (t *processTrack) ID() string {
	return "ffmpeg:" + strconv.Itoa(t.cmd.Process.Pid)
}

// Stop kills the process if it is still running and reaps it.
func (t *processTrack) Stop() error {
	t.once.Do(func() {
		if t.cmd.ProcessState == nil {
			if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.err = fmt.Errorf("kill ffmpeg: %w", err)
			}
		}
		if err := t.cmd.Wait(); err != nil {
			t.logger.Debug("ffmpeg exited",
				zap.Error(err),
				zap.String("stderr", t.stderr.String()),
			)
		}
	})
	return t.err
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
