// Package client submits collected input to the analysis backend and turns
// whatever comes back into a renderable result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"vibe-report/pkg/config"
	"vibe-report/pkg/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	ErrTimeout = errors.New("analysis timed out")
	ErrNetwork = errors.New("network error")
	ErrStatus  = errors.New("unexpected HTTP status")
	// ErrRejected means the backend answered with an error or message
	// body instead of an analysis.
	ErrRejected = errors.New("analysis rejected by backend")
)

const DefaultUserAgent = "vibereport-kiosk/1.0"

// StatusError is a non-2xx response. It matches ErrStatus.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Client struct {
	api       config.APIConfig
	upload    config.UploadConfig
	http      *http.Client
	logger    *zap.Logger
	userAgent string
	now       func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithUploadLimits(u config.UploadConfig) Option {
	return func(c *Client) { c.upload = u }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func New(api config.APIConfig, opts ...Option) *Client {
	c := &Client{
		api:       api,
		upload:    config.Default().Upload,
		http:      &http.Client{},
		logger:    zap.NewNop(),
		userAgent: DefaultUserAgent,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) UserAgent() string { return c.userAgent }

// AnalyzeAudio submits a finished recording with the contact fields. The
// returned result is never nil; on failure it is the synthetic error result.
func (c *Client) AnalyzeAudio(ctx context.Context, rec *models.Recording, contact models.ContactInfo) (*models.AnalysisResult, error) {
	if rec == nil {
		err := fmt.Errorf("%w: no recording", ErrNetwork)
		return ErrorResult(err), err
	}
	return c.submitAudio(ctx, rec.Filename, rec.MIMEType, rec.Data, contact)
}

// AnalyzeAudioFile submits an uploaded audio file after the advisory type
// and size checks.
func (c *Client) AnalyzeAudioFile(ctx context.Context, filename, mimeType string, data []byte, contact models.ContactInfo) (*models.AnalysisResult, error) {
	if err := c.upload.ValidateAudioFile(filename, mimeType, int64(len(data))); err != nil {
		return ErrorResult(err), err
	}
	if mimeType == "" {
		mimeType = models.RecordingMIMEType
	}
	return c.submitAudio(ctx, filename, mimeType, data, contact)
}

func (c *Client) submitAudio(ctx context.Context, filename, mimeType string, data []byte, contact models.ContactInfo) (*models.AnalysisResult, error) {
	body, contentType, err := encodeAudioForm(filename, mimeType, data, contact)
	if err != nil {
		return ErrorResult(err), err
	}

	ctx, cancel := context.WithTimeout(ctx, c.api.Timeout)
	defer cancel()

	url := c.api.URL(c.api.Endpoints.AnalyzeAudio)
	c.logger.Info("submitting recording",
		zap.String("url", url),
		zap.Int("bytes", len(data)),
		zap.String("mime_type", mimeType),
	)

	resp, err := c.send(ctx, http.MethodPost, url, contentType, body)
	if err != nil {
		c.logger.Error("audio analysis failed", zap.Error(err))
		return ErrorResult(err), err
	}
	return c.normalize(resp)
}

// AnalyzeSurvey posts the survey payload as JSON. Only the caller's
// context bounds it.
func (c *Client) AnalyzeSurvey(ctx context.Context, payload models.SurveyPayload) (*models.AnalysisResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		err = fmt.Errorf("encode survey: %w", err)
		return ErrorResult(err), err
	}

	url := c.api.URL(c.api.Endpoints.AnalyzeSurvey)
	c.logger.Info("submitting survey", zap.String("url", url))

	resp, err := c.send(ctx, http.MethodPost, url, "application/json", body)
	if err != nil {
		c.logger.Error("survey analysis failed", zap.Error(err))
		return ErrorResult(err), err
	}
	return c.normalize(resp)
}

// NewSurveyPayload stamps answers with this client's user agent and clock.
func (c *Client) NewSurveyPayload(contact models.ContactInfo, answers models.SurveyAnswers) models.SurveyPayload {
	return models.NewSurveyPayload(contact, answers, c.userAgent, c.now())
}

// Health reports whether the backend health endpoint answers 2xx.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.send(ctx, http.MethodGet, c.api.URL(c.api.Endpoints.HealthCheck), "", nil)
	return err
}

func (c *Client) normalize(body []byte) (*models.AnalysisResult, error) {
	n := Normalize(body)
	c.logger.Debug("normalized response", zap.Stringer("shape", n.Shape))

	if n.Shape == ShapeError {
		return n.Result, fmt.Errorf("%w: %s", ErrRejected, n.Message)
	}
	return n.Result, nil
}

func encodeAudioForm(filename, mimeType string, data []byte, contact models.ContactInfo) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// CreateFormFile would label the part application/octet-stream.
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := []struct{ name, value string }{
		{"name", contact.Name},
		{"email", contact.Email},
		{"phone", contact.Phone},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// send performs one request, retrying transient failures with a constant
// delay up to MaxRetries times. Timeouts and 4xx are returned at once.
func (c *Client) send(ctx context.Context, method, url, contentType string, body []byte) ([]byte, error) {
	var (
		out     []byte
		attempt int
	)

	operation := func() error {
		attempt++

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return classify(ctx, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return classify(ctx, fmt.Errorf("read response body: %w", err))
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			serr := &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 300)}
			c.logger.Warn("analysis backend returned error status",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
				zap.String("body", serr.Body),
			)
			if serr.retryable() {
				return serr
			}
			return backoff.Permanent(serr)
		}

		out = data
		return nil
	}

	var policy backoff.BackOff = backoff.NewConstantBackOff(c.api.RetryDelay)
	policy = backoff.WithMaxRetries(policy, uint64(c.api.MaxRetries))
	policy = backoff.WithContext(policy, ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warn("retrying analysis request",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
	})
	if err != nil {
		return nil, finalError(err)
	}
	return out, nil
}

// classify maps a transport error. Timeouts and cancellation are permanent.
func classify(ctx context.Context, err error) error {
	if isTimeout(err) {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrTimeout, err))
	}
	if ctx.Err() != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// finalError covers the case where the context expired between attempts
// and backoff returned the bare context error.
func finalError(err error) error {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNetwork), errors.Is(err, ErrStatus):
		return err
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
