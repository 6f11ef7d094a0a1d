package models

import "time"

// Report is a finished submission kept for rendering and export.
type Report struct {
	SessionID string          `json:"session_id"`
	Variant   string          `json:"variant"`
	Contact   ContactInfo     `json:"contact"`
	Questions []string        `json:"questions,omitempty"`
	Result    *AnalysisResult `json:"result"`
	// Failed marks the synthetic error result of a failed submission.
	Failed    bool      `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
}

func NewReport(sessionID, variant string, contact ContactInfo, result *AnalysisResult, failed bool) *Report {
	return &Report{
		SessionID: sessionID,
		Variant:   variant,
		Contact:   contact,
		Result:    result,
		Failed:    failed,
		CreatedAt: time.Now(),
	}
}
