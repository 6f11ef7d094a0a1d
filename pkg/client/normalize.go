package client

import (
	"bytes"
	"encoding/json"

	"vibe-report/pkg/models"
)

// Shape names the response layouts the backend is known to produce.
type Shape int

const (
	// ShapeEnvelope is {success, data: {analysis: {transcription, analysis, insights}, questions, userData, timestamp}}.
	ShapeEnvelope Shape = iota + 1
	// ShapeData is {data: {transcription, analysis, insights, ...}} without the success flag.
	ShapeData
	// ShapeFlat has the result fields at the top level.
	ShapeFlat
	// ShapeError carries only error or message.
	ShapeError
	ShapeUnknown
)

func (s Shape) String() string {
	switch s {
	case ShapeEnvelope:
		return "envelope"
	case ShapeData:
		return "data"
	case ShapeFlat:
		return "flat"
	case ShapeError:
		return "error"
	case ShapeUnknown:
		return "unknown"
	}
	return "invalid"
}

// Normalized is a decoded response body and the layout it was found in.
type Normalized struct {
	Shape  Shape
	Result *models.AnalysisResult
	// Message is the backend's own error text for ShapeError.
	Message string
}

var resultKeys = []string{"transcription", "analysis", "insights"}

type object map[string]json.RawMessage

func asObject(raw json.RawMessage) object {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func (o object) hasAny(keys ...string) bool {
	for _, k := range keys {
		if v, ok := o[k]; ok && !isNull(v) {
			return true
		}
	}
	return false
}

func (o object) text(key string) string {
	raw, ok := o[key]
	if !ok {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || !truthy(v) {
		return ""
	}
	return models.SafeString(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	}
	return true
}

// Normalize detects the layout of body and produces one AnalysisResult.
// It never fails: bodies that match no success layout degrade into a
// renderable error or "unexpected format" result.
func Normalize(body []byte) Normalized {
	top := asObject(body)
	if top == nil {
		return Normalized{Shape: ShapeUnknown, Result: unexpectedResult(body)}
	}

	if data := asObject(top["data"]); data != nil {
		if inner := asObject(data["analysis"]); inner != nil && inner.hasAny(resultKeys...) {
			if res, ok := decodeEnvelope(data); ok {
				return Normalized{Shape: ShapeEnvelope, Result: res}
			}
			return Normalized{Shape: ShapeUnknown, Result: unexpectedResult(body)}
		}
		if data.hasAny(resultKeys...) {
			if res, ok := decodeResult(top["data"]); ok {
				return Normalized{Shape: ShapeData, Result: res}
			}
			return Normalized{Shape: ShapeUnknown, Result: unexpectedResult(body)}
		}
	}

	if top.hasAny(resultKeys...) {
		if res, ok := decodeResult(body); ok {
			return Normalized{Shape: ShapeFlat, Result: res}
		}
		return Normalized{Shape: ShapeUnknown, Result: unexpectedResult(body)}
	}

	if msg := firstNonEmpty(top.text("message"), top.text("error")); msg != "" {
		return Normalized{Shape: ShapeError, Result: rejectedResult(msg), Message: msg}
	}

	return Normalized{Shape: ShapeUnknown, Result: unexpectedResult(body)}
}

func decodeResult(raw json.RawMessage) (*models.AnalysisResult, bool) {
	var res models.AnalysisResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	return &res, true
}

// decodeEnvelope lifts data.analysis.{transcription,analysis,insights} and
// keeps questions, userData and timestamp from data.
func decodeEnvelope(data object) (*models.AnalysisResult, bool) {
	res, ok := decodeResult(data["analysis"])
	if !ok {
		return nil, false
	}

	var meta struct {
		Questions models.Questions    `json:"questions"`
		UserData  *models.ContactInfo `json:"userData"`
		Timestamp models.Text         `json:"timestamp"`
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, false
	}

	res.Questions = meta.Questions
	res.UserData = meta.UserData
	res.Timestamp = meta.Timestamp
	return res, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
