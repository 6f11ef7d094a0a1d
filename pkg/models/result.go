package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// AnalysisResult is the normalized backend answer. Every field except
// Transcription is optional and may be nil or empty.
type AnalysisResult struct {
	Transcription any          `json:"transcription"`
	Analysis      *Analysis    `json:"analysis,omitempty"`
	Insights      *Insights    `json:"insights,omitempty"`
	Questions     Questions    `json:"questions,omitempty"`
	UserData      *ContactInfo `json:"userData,omitempty"`
	Timestamp     Text         `json:"timestamp,omitempty"`
}

func (r *AnalysisResult) TranscriptionText() string {
	if r == nil {
		return ""
	}
	return SafeString(r.Transcription)
}

type Analysis struct {
	OverallScore      Number       `json:"overallScore"`
	ConfidenceLevel   Text         `json:"confidenceLevel,omitempty"`
	TravelPersonality []Trait      `json:"travelPersonality,omitempty"`
	Preferences       []Preference `json:"preferences,omitempty"`
	SpendingHabits    *Section     `json:"spendingHabits,omitempty"`
	GoaExperience     *Section     `json:"goaExperience,omitempty"`
}

type Insights struct {
	WhyUseful       Text             `json:"whyUseful,omitempty"`
	Benefits        []any            `json:"benefits,omitempty"`
	Opportunities   []any            `json:"opportunities,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	RawData         json.RawMessage  `json:"rawData,omitempty"`
}

// Text accepts any JSON value and keeps its display form.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Text(SafeString(v))
	return nil
}

func (t Text) String() string { return string(t) }

// Number accepts a JSON number or a numeric string such as "87" or "87%".
type Number struct {
	Value float64
	Valid bool
}

func N(v float64) Number { return Number{Value: v, Valid: true} }

// ParseNumber treats NaN and infinities as absent.
func ParseNumber(v any) Number {
	var (
		f   float64
		err error
	)
	switch val := v.(type) {
	case float64:
		f = val
	case json.Number:
		f, err = val.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "%")), 64)
	default:
		return Number{}
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}
	}
	return N(f)
}

func (n *Number) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = ParseNumber(v)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n Number) String() string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// Trait is either {trait, percentage?, reason?} or a bare value (Plain).
type Trait struct {
	Trait      string `json:"trait"`
	Percentage Number `json:"percentage"`
	Reason     string `json:"reason,omitempty"`
	Plain      bool   `json:"-"`
}

func (t *Trait) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	obj, ok := v.(map[string]any)
	if !ok || !truthy(obj["trait"]) {
		*t = Trait{Trait: SafeString(v), Plain: true}
		return nil
	}
	*t = Trait{
		Trait:      SafeString(obj["trait"]),
		Percentage: ParseNumber(obj["percentage"]),
		Reason:     SafeString(obj["reason"]),
	}
	return nil
}

func (t Trait) MarshalJSON() ([]byte, error) {
	if t.Plain {
		return json.Marshal(t.Trait)
	}
	type plain Trait
	return json.Marshal(plain(t))
}

// Preference is either {preference, choice?, percentage?, reason?, priority?} or a bare value.
type Preference struct {
	Preference string `json:"preference"`
	Choice     string `json:"choice,omitempty"`
	Percentage Number `json:"percentage"`
	Reason     string `json:"reason,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Plain      bool   `json:"-"`
}

func (p *Preference) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	obj, ok := v.(map[string]any)
	if !ok || !truthy(obj["preference"]) {
		*p = Preference{Preference: SafeString(v), Plain: true}
		return nil
	}
	*p = Preference{
		Preference: SafeString(obj["preference"]),
		Choice:     SafeString(obj["choice"]),
		Percentage: ParseNumber(obj["percentage"]),
		Reason:     SafeString(obj["reason"]),
		Priority:   SafeString(obj["priority"]),
	}
	return nil
}

func (p Preference) MarshalJSON() ([]byte, error) {
	if p.Plain {
		return json.Marshal(p.Preference)
	}
	type plain Preference
	return json.Marshal(plain(p))
}

type RecommendationKind int

const (
	RecommendationPlain RecommendationKind = iota
	RecommendationGroup
	RecommendationSingle
)

// Recommendation is one of {category, items}, {recommendation, reason?, priority?} or a bare value.
type Recommendation struct {
	Category       string   `json:"category,omitempty"`
	Items          []string `json:"items,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Text           string   `json:"-"`
}

func (r Recommendation) Kind() RecommendationKind {
	switch {
	case r.Category != "":
		return RecommendationGroup
	case r.Recommendation != "":
		return RecommendationSingle
	}
	return RecommendationPlain
}

func (r *Recommendation) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	obj, _ := v.(map[string]any)
	switch {
	case obj != nil && truthy(obj["category"]):
		*r = Recommendation{
			Category: SafeString(obj["category"]),
			Items:    itemsOf(obj["items"]),
		}
	case obj != nil && truthy(obj["recommendation"]):
		*r = Recommendation{
			Recommendation: SafeString(obj["recommendation"]),
			Reason:         SafeString(obj["reason"]),
			Priority:       SafeString(obj["priority"]),
		}
	default:
		*r = Recommendation{Text: SafeString(v)}
	}
	return nil
}

func (r Recommendation) MarshalJSON() ([]byte, error) {
	if r.Kind() == RecommendationPlain {
		return json.Marshal(r.Text)
	}
	type plain Recommendation
	return json.Marshal(plain(r))
}

// Section holds spendingHabits or goaExperience: either a flat list or
// category entries in document order.
type Section struct {
	List    []string
	Entries []SectionEntry
}

type SectionEntry struct {
	Key   string
	Items []string
}

func (s *Section) Empty() bool {
	return s == nil || (len(s.List) == 0 && len(s.Entries) == 0)
}

func (s *Section) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*s = Section{}
	if len(b) == 0 {
		return nil
	}

	switch b[0] {
	case '{':
		dec := json.NewDecoder(bytes.NewReader(b))
		if _, err := dec.Token(); err != nil {
			return err
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := tok.(string)
			var raw any
			if err := dec.Decode(&raw); err != nil {
				return err
			}
			s.Entries = append(s.Entries, SectionEntry{Key: key, Items: itemsOf(raw)})
		}
		return nil
	case '[':
		var items []any
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		s.List = SafeStrings(items)
		return nil
	}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if str := SafeString(v); str != "" {
		s.List = []string{str}
	}
	return nil
}

func (s Section) MarshalJSON() ([]byte, error) {
	if len(s.Entries) == 0 {
		if s.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(s.List)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		items := e.Items
		if items == nil {
			items = []string{}
		}
		val, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Questions tolerates non-string entries by rendering them with SafeString.
type Questions []string

func (q *Questions) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*q = Questions(itemsOf(v))
	return nil
}

func itemsOf(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return SafeStrings(val)
	}
	if s := SafeString(v); s != "" {
		return []string{s}
	}
	return nil
}
