package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"vibe-report/pkg/models"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResult(t *testing.T, body string) *models.AnalysisResult {
	t.Helper()
	var r models.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	return &r
}

const fullResult = `{
	"transcription": "I love sunsets and long walks on the beach.",
	"analysis": {
		"overallScore": 87,
		"confidenceLevel": "High",
		"travelPersonality": [
			{"trait": "Explorer", "percentage": 80, "reason": "seeks new places"},
			{"trait": "Beach Lover", "percentage": "65%"},
			"Night Owl"
		],
		"preferences": [
			{"preference": "Accommodation", "choice": "Hostel", "percentage": 70, "priority": "High"},
			"Street food"
		],
		"spendingHabits": {"zeta": ["Budget meals"], "alpha": "Splurge on views"},
		"goaExperience": ["Anjuna flea market"]
	},
	"insights": {
		"whyUseful": "Helps you plan.",
		"benefits": ["Save time", {"benefit": "Meet people"}],
		"opportunities": [{"opportunity": "Try trekking"}],
		"recommendations": [
			{"category": "Food", "items": ["Fish thali", "Bebinca"]},
			{"recommendation": "Rent a scooter", "reason": "freedom", "priority": "High"},
			"Go early"
		]
	},
	"questions": ["Who are you?", "Beach or mountain?"],
	"userData": {"name": "Asha Rao", "email": "asha@example.com", "phone": "1"}
}`

func TestBuildSummaryOnly(t *testing.T) {
	v := Build(&models.AnalysisResult{Transcription: "just this"})

	require.Len(t, v.Sections, 1)
	assert.Equal(t, SectionSummary, v.Sections[0].Kind)
	assert.Equal(t, "just this", v.Sections[0].Blocks[0].Text)
}

func TestBuildEmptyContainersEmitNothing(t *testing.T) {
	v := Build(&models.AnalysisResult{
		Transcription: "x",
		Analysis:      &models.Analysis{},
		Insights:      &models.Insights{Benefits: []any{}},
	})
	require.Len(t, v.Sections, 1)
}

func TestBuildNilResult(t *testing.T) {
	assert.Empty(t, Build(nil).Sections)
}

func TestBuildFullOrder(t *testing.T) {
	v := Build(decodeResult(t, fullResult))

	kinds := make([]SectionKind, len(v.Sections))
	for i, s := range v.Sections {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []SectionKind{SectionSummary, SectionInsights, SectionAnalysis, SectionQuestions}, kinds)

	analysis, ok := v.Section(SectionAnalysis)
	require.True(t, ok)

	traits, ok := analysis.Block(BlockTraits)
	require.True(t, ok)
	assert.Equal(t, []string{"Explorer", "Beach Lover", "Night Owl"}, traits.Labels())
	assert.Equal(t, 80.0, *traits.Items[0].Percent)
	assert.Equal(t, 65.0, *traits.Items[1].Percent)
	assert.Nil(t, traits.Items[2].Percent)

	prefs, ok := analysis.Block(BlockPreferences)
	require.True(t, ok)
	assert.Equal(t, []string{"Accommodation: Hostel", "Street food"}, prefs.Labels())
	assert.Equal(t, "High", prefs.Items[0].Priority)

	spending, ok := analysis.Block(BlockSpending)
	require.True(t, ok)
	assert.Equal(t, []string{"zeta", "alpha"}, spending.Labels())
	assert.Equal(t, []string{"Splurge on views"}, spending.Items[1].Children)

	score, ok := analysis.Block(BlockScore)
	require.True(t, ok)
	assert.Equal(t, "87/100", score.Text)

	insights, ok := v.Section(SectionInsights)
	require.True(t, ok)
	benefits, _ := insights.Block(BlockBenefits)
	assert.Equal(t, []string{"Save time", "Meet people"}, benefits.Labels())
	recs, _ := insights.Block(BlockRecommendations)
	assert.Equal(t, []string{"Food", "Rent a scooter", "Go early"}, recs.Labels())
}

func TestViewOrderSurvivesJSONRoundTrip(t *testing.T) {
	original := decodeResult(t, fullResult)

	encoded, err := json.Marshal(original)
	require.NoError(t, err)
	reparsed := decodeResult(t, string(encoded))

	a, _ := Build(original).Section(SectionAnalysis)
	b, _ := Build(reparsed).Section(SectionAnalysis)

	for _, title := range []string{BlockTraits, BlockPreferences} {
		x, _ := a.Block(title)
		y, _ := b.Block(title)
		assert.Equal(t, x.Items, y.Items, title)
	}
}

func TestWriteText(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Build(decodeResult(t, fullResult))))

	out := buf.String()
	assert.Contains(t, out, "SUMMARY")
	assert.Contains(t, out, "I love sunsets")
	assert.Contains(t, out, "87/100")
	assert.Contains(t, out, "Explorer")
	assert.Contains(t, out, "* Fish thali")
	assert.Less(t, strings.Index(out, "Explorer"), strings.Index(out, "Beach Lover"))
}

func TestExportPDFScore(t *testing.T) {
	var buf bytes.Buffer
	stats, err := ExportPDF(&buf, decodeResult(t, fullResult), PDFOptions{
		GeneratedAt: time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	pdf := buf.String()
	assert.True(t, strings.HasPrefix(pdf, "%PDF-"))
	assert.Contains(t, pdf, "Overall Compatibility Score: 87/100")
	assert.Contains(t, pdf, "Page 1 of ")
	assert.NotContains(t, pdf, "{nb}")
	assert.Contains(t, pdf, "Full Name: Asha Rao")

	require.Greater(t, stats.ScoreBarMax, 0.0)
	assert.InDelta(t, 0.87, stats.ScoreBarWidth/stats.ScoreBarMax, 0.02)
	assert.GreaterOrEqual(t, stats.Pages, 1)
}

func TestExportPDFPaginates(t *testing.T) {
	r := decodeResult(t, fullResult)
	for i := 0; i < 120; i++ {
		r.Insights.Benefits = append(r.Insights.Benefits, "Another benefit worth listing on its own line")
	}

	var buf bytes.Buffer
	stats, err := ExportPDF(&buf, r, PDFOptions{})
	require.NoError(t, err)
	assert.Greater(t, stats.Pages, 1)
	assert.Contains(t, buf.String(), "Page 2 of ")
}

func TestExportPDFTruncatesResponses(t *testing.T) {
	r := &models.AnalysisResult{Transcription: strings.Repeat("word ", 50) + "TAILMARKER"}

	var buf bytes.Buffer
	_, err := ExportPDF(&buf, r, PDFOptions{Variant: VariantCompact})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "...")
	assert.NotContains(t, buf.String(), "TAILMARKER")
}

func TestExportPDFNilResult(t *testing.T) {
	_, err := ExportPDF(&bytes.Buffer{}, nil, PDFOptions{})
	assert.ErrorIs(t, err, ErrExport)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestExportPDFWriteFailure(t *testing.T) {
	_, err := ExportPDF(failingWriter{}, &models.AnalysisResult{Transcription: "x"}, PDFOptions{})
	assert.ErrorIs(t, err, ErrExport)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Hello world", cleanText("  Hello\n\t world  "))
	assert.Equal(t, "caf", cleanText("café"))
	assert.Equal(t, "a b", cleanText("a b"))
	assert.Equal(t, "", cleanText("\x01\x02"))
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "VibeReport_Asha_Rao_2024-03-09.pdf", Filename(VariantProfessional, "Asha  Rao", at))
	assert.Equal(t, "vibe-report-asha-rao.pdf", Filename(VariantCompact, "Asha Rao", at))
	assert.Equal(t, "VibeReport_Guest_2024-03-09.pdf", Filename("", " ", at))
	assert.Equal(t, "vibe-report-a_b.pdf", Filename(VariantCompact, "a/b", at))
}

func TestNonFiniteNumbersRenderAsAbsent(t *testing.T) {
	color.NoColor = true
	r := decodeResult(t, `{
		"transcription": "x",
		"analysis": {
			"overallScore": "Infinity",
			"travelPersonality": [{"trait": "Explorer", "percentage": "NaN"}]
		}
	}`)
	v := Build(r)

	analysis, ok := v.Section(SectionAnalysis)
	require.True(t, ok)
	_, ok = analysis.Block(BlockScore)
	assert.False(t, ok)
	traits, ok := analysis.Block(BlockTraits)
	require.True(t, ok)
	require.Len(t, traits.Items, 1)
	assert.Equal(t, "Explorer", traits.Items[0].Label)
	assert.Nil(t, traits.Items[0].Percent)

	var buf bytes.Buffer
	require.NotPanics(t, func() { require.NoError(t, WriteText(&buf, v)) })
	assert.Contains(t, buf.String(), "Explorer")

	_, err := ExportPDF(&bytes.Buffer{}, r, PDFOptions{})
	require.NoError(t, err)

	_, err = json.Marshal(v)
	require.NoError(t, err)
	_, err = json.Marshal(r)
	require.NoError(t, err)
}

func TestBarClampsOutOfRange(t *testing.T) {
	empty := "[" + strings.Repeat("-", barWidth) + "]"
	full := "[" + strings.Repeat("#", barWidth) + "]"
	assert.Equal(t, empty, bar(math.NaN()))
	assert.Equal(t, empty, bar(-5))
	assert.Equal(t, full, bar(250))
}
