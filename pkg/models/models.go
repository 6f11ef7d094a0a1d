package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RecordingMIMEType = "audio/webm"
	RecordingFilename = "recording.webm"
)

// Survey answer keys, in the order the questionnaire presents them.
const (
	KeyIntroRole   = "introRole"
	KeyIntroFocus  = "introFocus"
	KeyEscape      = "escape"
	KeyMotivation  = "motivation"
	KeyRegion      = "region"
	KeyTimeWaster  = "timeWaster"
	KeyPartnerSkip = "partnerSkip"
	KeyBudget      = "budget"
	KeyConcern     = "concern"
)

var SurveyKeys = []string{
	KeyIntroRole,
	KeyIntroFocus,
	KeyEscape,
	KeyMotivation,
	KeyRegion,
	KeyTimeWaster,
	KeyPartnerSkip,
	KeyBudget,
	KeyConcern,
}

type ContactInfo struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,basicemail"`
	Phone string `json:"phone" validate:"required"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (c ContactInfo) Trimmed() ContactInfo {
	return ContactInfo{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.TrimSpace(c.Email),
		Phone: strings.TrimSpace(c.Phone),
	}
}

func (c ContactInfo) Complete() bool {
	t := c.Trimmed()
	return t.Name != "" && t.Email != "" && t.Phone != ""
}

// SurveyAnswers maps each of SurveyKeys to the chosen option.
type SurveyAnswers map[string]string

func NewSurveyAnswers() SurveyAnswers {
	a := make(SurveyAnswers, len(SurveyKeys))
	for _, k := range SurveyKeys {
		a[k] = ""
	}
	return a
}

func (a SurveyAnswers) Complete() bool {
	for _, k := range SurveyKeys {
		if strings.TrimSpace(a[k]) == "" {
			return false
		}
	}
	return true
}

// Missing lists unanswered keys in questionnaire order.
func (a SurveyAnswers) Missing() []string {
	var missing []string
	for _, k := range SurveyKeys {
		if strings.TrimSpace(a[k]) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Recording is the finalized audio produced by one recording session.
type Recording struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"-"`
	MIMEType  string    `json:"mime_type"`
	Filename  string    `json:"filename"`
	Elapsed   int       `json:"elapsed_seconds"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRecording(data []byte, elapsed int) *Recording {
	return &Recording{
		ID:        uuid.New().String(),
		Data:      data,
		MIMEType:  RecordingMIMEType,
		Filename:  RecordingFilename,
		Elapsed:   elapsed,
		Size:      len(data),
		CreatedAt: time.Now(),
	}
}

type SurveyIntro struct {
	Role  string `json:"role"`
	Focus string `json:"focus"`
}

type PayloadMetadata struct {
	UserAgent string `json:"userAgent"`
	Timestamp string `json:"timestamp"`
}

// SurveyPayload is the JSON body of the survey submission.
type SurveyPayload struct {
	User        ContactInfo     `json:"user"`
	Intro       SurveyIntro     `json:"intro"`
	Escape      string          `json:"escape"`
	Motivation  string          `json:"motivation"`
	Region      string          `json:"region"`
	TimeWaster  string          `json:"timeWaster"`
	PartnerSkip string          `json:"partnerSkip"`
	Budget      string          `json:"budget"`
	Concern     string          `json:"concern"`
	Metadata    PayloadMetadata `json:"metadata"`
}

func NewSurveyPayload(user ContactInfo, answers SurveyAnswers, userAgent string, now time.Time) SurveyPayload {
	return SurveyPayload{
		User: user,
		Intro: SurveyIntro{
			Role:  answers[KeyIntroRole],
			Focus: answers[KeyIntroFocus],
		},
		Escape:      answers[KeyEscape],
		Motivation:  answers[KeyMotivation],
		Region:      answers[KeyRegion],
		TimeWaster:  answers[KeyTimeWaster],
		PartnerSkip: answers[KeyPartnerSkip],
		Budget:      answers[KeyBudget],
		Concern:     answers[KeyConcern],
		Metadata: PayloadMetadata{
			UserAgent: userAgent,
			Timestamp: now.UTC().Format(time.RFC3339Nano),
		},
	}
}
