package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"vibe-report/pkg/models"
)

const (
	timeoutMessage     = "Analysis timed out. Please try again with a shorter audio recording."
	failureMessageFmt  = "Error processing audio: %s. Please check your connection and try again."
	unexpectedMessage  = "Analysis completed - unexpected response format"
	defaultRejectedMsg = "Analysis failed"
)

// ErrorResult is the renderable result shown when a submission fails
// outright: a readable message and static troubleshooting tips.
func ErrorResult(err error) *models.AnalysisResult {
	msg := fmt.Sprintf(failureMessageFmt, err)
	if errors.Is(err, ErrTimeout) {
		msg = timeoutMessage
	}

	return &models.AnalysisResult{
		Transcription: msg,
		Insights: &models.Insights{
			WhyUseful: "Unable to process your audio at this time. Please ensure your internet connection is stable and try again.",
			Benefits: []any{
				"Check your internet connection",
				"Verify your audio file is in a supported format",
				"Ensure your audio file is not too large",
				"Try recording again with clear audio",
			},
			Opportunities: []any{
				"Retry the analysis once connection is stable",
				"Consider recording in a quieter environment",
				"Ensure your microphone is working properly",
				"Contact support if the issue persists",
			},
		},
	}
}

// rejectedResult renders a response that carried only an error or message.
func rejectedResult(message string) *models.AnalysisResult {
	if message == "" {
		message = defaultRejectedMsg
	}
	return &models.AnalysisResult{
		Transcription: message,
		Insights: &models.Insights{
			WhyUseful:     "There was an error processing your audio. Please try again.",
			Benefits:      []any{"Check your audio quality", "Ensure stable internet connection"},
			Opportunities: []any{"Retry the analysis", "Contact support if issues persist"},
		},
	}
}

// unexpectedResult wraps a body that matched no known layout. Non-JSON
// bodies are kept as a JSON string.
func unexpectedResult(body []byte) *models.AnalysisResult {
	raw := json.RawMessage(body)
	if !json.Valid(body) {
		quoted, err := json.Marshal(string(body))
		if err != nil {
			quoted = []byte(`""`)
		}
		raw = quoted
	}

	return &models.AnalysisResult{
		Transcription: unexpectedMessage,
		Insights: &models.Insights{
			WhyUseful:     "Your audio has been analyzed but the response format was unexpected.",
			Benefits:      []any{"Analysis completed", "Check the raw data below"},
			Opportunities: []any{"Review the response", "Contact support if needed"},
			RawData:       raw,
		},
	}
}
