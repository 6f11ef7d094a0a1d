package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactValidate(t *testing.T) {
	tests := []struct {
		name    string
		contact ContactInfo
		want    ValidationErrors
	}{
		{
			name:    "valid",
			contact: ContactInfo{Name: "Asha", Email: "asha@example.com", Phone: "+91 99999"},
		},
		{
			name:    "all blank",
			contact: ContactInfo{Name: "  ", Email: "", Phone: "\t"},
			want: ValidationErrors{
				"name":  "Name is required",
				"email": "Email is required",
				"phone": "Phone is required",
			},
		},
		{
			name:    "bad email",
			contact: ContactInfo{Name: "Asha", Email: "asha@example", Phone: "1"},
			want:    ValidationErrors{"email": "Invalid email format"},
		},
		{
			name:    "email with space",
			contact: ContactInfo{Name: "Asha", Email: "as ha@example.com", Phone: "1"},
			want:    ValidationErrors{"email": "Invalid email format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.contact.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, tt.want, verrs)
		})
	}
}

func TestSurveyAnswersComplete(t *testing.T) {
	a := NewSurveyAnswers()
	assert.False(t, a.Complete())
	assert.Len(t, a.Missing(), 9)

	for _, k := range SurveyKeys {
		a[k] = "x"
	}
	assert.True(t, a.Complete())

	a[KeyBudget] = " "
	assert.Equal(t, []string{KeyBudget}, a.Missing())
}

func TestNewSurveyPayload(t *testing.T) {
	a := NewSurveyAnswers()
	a[KeyIntroRole] = "Student"
	a[KeyIntroFocus] = "Party"
	a[KeyBudget] = "500-1500"

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewSurveyPayload(ContactInfo{Name: "A", Email: "a@b.co", Phone: "1"}, a, "vibereport/1.0", now)

	b, err := json.Marshal(p)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, map[string]any{"role": "Student", "focus": "Party"}, got["intro"])
	assert.Equal(t, "500-1500", got["budget"])
	assert.Equal(t, "2024-01-01T00:00:00Z", got["metadata"].(map[string]any)["timestamp"])
	assert.Equal(t, "vibereport/1.0", got["metadata"].(map[string]any)["userAgent"])
}

func TestSafeString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hello", "hello"},
		{"number", float64(87), "87"},
		{"fraction", 12.5, "12.5"},
		{"nil", nil, ""},
		{"benefit first", map[string]any{"trait": "t", "benefit": "b"}, "b"},
		{"skips falsy", map[string]any{"benefit": "", "opportunity": "o"}, "o"},
		{"category before items", map[string]any{"items": []any{"x"}, "category": "Food"}, "Food"},
		{"items joined", map[string]any{"items": []any{"x", "y"}}, "x, y"},
		{"json fallback", map[string]any{"name": "n"}, `{"name":"n"}`},
		{"array serialized", []any{"a", float64(1)}, `["a",1]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeString(tt.in))
		})
	}
}

func TestAnalysisDecodeFlexibleShapes(t *testing.T) {
	body := `{
		"overallScore": "87",
		"confidenceLevel": "High",
		"travelPersonality": [
			{"trait": "Explorer", "percentage": 80, "reason": "loves hikes"},
			"Night owl",
			{"name": "odd"}
		],
		"preferences": [{"preference": "Beaches", "percentage": "70%", "priority": "high"}],
		"spendingHabits": {"zeta": ["a", "b"], "alpha": "single"},
		"goaExperience": ["sunsets"]
	}`

	var a Analysis
	require.NoError(t, json.Unmarshal([]byte(body), &a))

	assert.Equal(t, N(87), a.OverallScore)
	assert.Equal(t, Text("High"), a.ConfidenceLevel)

	require.Len(t, a.TravelPersonality, 3)
	assert.Equal(t, Trait{Trait: "Explorer", Percentage: N(80), Reason: "loves hikes"}, a.TravelPersonality[0])
	assert.Equal(t, Trait{Trait: "Night owl", Plain: true}, a.TravelPersonality[1])
	assert.Equal(t, Trait{Trait: `{"name":"odd"}`, Plain: true}, a.TravelPersonality[2])

	require.Len(t, a.Preferences, 1)
	assert.Equal(t, N(70), a.Preferences[0].Percentage)
	assert.Equal(t, "high", a.Preferences[0].Priority)

	require.NotNil(t, a.SpendingHabits)
	assert.Equal(t, []SectionEntry{
		{Key: "zeta", Items: []string{"a", "b"}},
		{Key: "alpha", Items: []string{"single"}},
	}, a.SpendingHabits.Entries)
	assert.Equal(t, []string{"sunsets"}, a.GoaExperience.List)
}

func TestRecommendationKinds(t *testing.T) {
	body := `[
		{"category": "Food", "items": ["Fish thali", "Bebinca"]},
		{"category": "Stay", "items": "Hostel"},
		{"recommendation": "Rent a scooter", "reason": "freedom", "priority": "High"},
		"Go early"
	]`

	var recs []Recommendation
	require.NoError(t, json.Unmarshal([]byte(body), &recs))
	require.Len(t, recs, 4)

	assert.Equal(t, RecommendationGroup, recs[0].Kind())
	assert.Equal(t, []string{"Fish thali", "Bebinca"}, recs[0].Items)
	assert.Equal(t, []string{"Hostel"}, recs[1].Items)
	assert.Equal(t, RecommendationSingle, recs[2].Kind())
	assert.Equal(t, "High", recs[2].Priority)
	assert.Equal(t, RecommendationPlain, recs[3].Kind())
	assert.Equal(t, "Go early", recs[3].Text)
}

func TestAnalysisResultJSONRoundTrip(t *testing.T) {
	body := `{
		"transcription": "hi",
		"analysis": {
			"overallScore": 87,
			"travelPersonality": [{"trait": "Explorer", "percentage": 80}, "Night owl"],
			"spendingHabits": {"zeta": ["a"], "alpha": ["b"]}
		},
		"insights": {
			"benefits": ["x", {"benefit": "y"}],
			"recommendations": [{"category": "Food", "items": ["a"]}, "plain"]
		},
		"questions": ["q1", 2]
	}`

	var first AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(body), &first))

	encoded, err := json.Marshal(first)
	require.NoError(t, err)

	var second AnalysisResult
	require.NoError(t, json.Unmarshal(encoded, &second))

	assert.Equal(t, first.Analysis, second.Analysis)
	assert.Equal(t, first.Insights.Recommendations, second.Insights.Recommendations)
	assert.Equal(t, Questions{"q1", "2"}, second.Questions)
	assert.Equal(t, "hi", second.TranscriptionText())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   any
		want Number
	}{
		{float64(42), N(42)},
		{json.Number("12.5"), N(12.5)},
		{" 87% ", N(87)},
		{"NaN", Number{}},
		{"Infinity", Number{}},
		{"-Inf", Number{}},
		{"high", Number{}},
		{true, Number{}},
		{nil, Number{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseNumber(tt.in), "%v", tt.in)
	}
}
