// Package report turns an AnalysisResult into something a person reads:
// a structured view, terminal text, or a PDF.
package report

import (
	"strings"

	"vibe-report/pkg/models"
)

type SectionKind string

const (
	SectionSummary   SectionKind = "summary"
	SectionInsights  SectionKind = "insights"
	SectionAnalysis  SectionKind = "analysis"
	SectionQuestions SectionKind = "questions"
)

// Block titles, shared by the text and PDF renderers.
const (
	BlockWhyUseful       = "Why This Analysis Matters"
	BlockBenefits        = "Key Benefits"
	BlockOpportunities   = "Growth Opportunities"
	BlockRecommendations = "Personalized Recommendations"
	BlockScore           = "Overall Score"
	BlockConfidence      = "Confidence Level"
	BlockTraits          = "Travel Personality Traits"
	BlockPreferences     = "Travel Preferences"
	BlockSpending        = "Travel Spending Patterns"
	BlockDestination     = "Destination Experience Insights"
)

// View is the renderable form of a result. Absent fields produce no
// section and no block.
type View struct {
	Sections []Section `json:"sections"`
}

type Section struct {
	Kind   SectionKind `json:"kind"`
	Title  string      `json:"title"`
	Blocks []Block     `json:"blocks"`
}

type Block struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	// Score is set on the overall score block, out of 100.
	Score *float64 `json:"score,omitempty"`
	Items []Item   `json:"items,omitempty"`
}

type Item struct {
	Label    string   `json:"label"`
	Percent  *float64 `json:"percent,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Children []string `json:"children,omitempty"`
}

// Section returns the section of the given kind, if present.
func (v View) Section(kind SectionKind) (Section, bool) {
	for _, s := range v.Sections {
		if s.Kind == kind {
			return s, true
		}
	}
	return Section{}, false
}

// Block returns the block with the given title, if present.
func (s Section) Block(title string) (Block, bool) {
	for _, b := range s.Blocks {
		if b.Title == title {
			return b, true
		}
	}
	return Block{}, false
}

// Labels lists item labels in order.
func (b Block) Labels() []string {
	out := make([]string, len(b.Items))
	for i, it := range b.Items {
		out[i] = it.Label
	}
	return out
}

// Build is pure: the same result always yields the same view.
func Build(r *models.AnalysisResult) View {
	var v View
	if r == nil {
		return v
	}

	if text := strings.TrimSpace(r.TranscriptionText()); text != "" {
		v.Sections = append(v.Sections, Section{
			Kind:   SectionSummary,
			Title:  "Summary",
			Blocks: []Block{{Text: text}},
		})
	}
	if s, ok := insightsSection(r.Insights); ok {
		v.Sections = append(v.Sections, s)
	}
	if s, ok := analysisSection(r.Analysis); ok {
		v.Sections = append(v.Sections, s)
	}
	if len(r.Questions) > 0 {
		items := make([]Item, 0, len(r.Questions))
		for _, q := range r.Questions {
			if q != "" {
				items = append(items, Item{Label: q})
			}
		}
		if len(items) > 0 {
			v.Sections = append(v.Sections, Section{
				Kind:   SectionQuestions,
				Title:  "Questions",
				Blocks: []Block{{Items: items}},
			})
		}
	}
	return v
}

func insightsSection(in *models.Insights) (Section, bool) {
	if in == nil {
		return Section{}, false
	}
	s := Section{Kind: SectionInsights, Title: "Insights & Recommendations"}

	if text := in.WhyUseful.String(); text != "" {
		s.Blocks = append(s.Blocks, Block{Title: BlockWhyUseful, Text: text})
	}
	if items := plainItems(models.SafeStrings(in.Benefits)); len(items) > 0 {
		s.Blocks = append(s.Blocks, Block{Title: BlockBenefits, Items: items})
	}
	if items := plainItems(models.SafeStrings(in.Opportunities)); len(items) > 0 {
		s.Blocks = append(s.Blocks, Block{Title: BlockOpportunities, Items: items})
	}
	if items := recommendationItems(in.Recommendations); len(items) > 0 {
		s.Blocks = append(s.Blocks, Block{Title: BlockRecommendations, Items: items})
	}
	return s, len(s.Blocks) > 0
}

func analysisSection(a *models.Analysis) (Section, bool) {
	if a == nil {
		return Section{}, false
	}
	s := Section{Kind: SectionAnalysis, Title: "Travel Personality Analysis"}

	if a.OverallScore.Valid {
		score := a.OverallScore.Value
		s.Blocks = append(s.Blocks, Block{Title: BlockScore, Text: a.OverallScore.String() + "/100", Score: &score})
	}
	if c := a.ConfidenceLevel.String(); c != "" {
		s.Blocks = append(s.Blocks, Block{Title: BlockConfidence, Text: c})
	}

	if len(a.TravelPersonality) > 0 {
		items := make([]Item, 0, len(a.TravelPersonality))
		for _, t := range a.TravelPersonality {
			if t.Trait == "" {
				continue
			}
			items = append(items, Item{Label: t.Trait, Percent: percent(t.Percentage), Detail: t.Reason})
		}
		if len(items) > 0 {
			s.Blocks = append(s.Blocks, Block{Title: BlockTraits, Items: items})
		}
	}

	if len(a.Preferences) > 0 {
		items := make([]Item, 0, len(a.Preferences))
		for _, p := range a.Preferences {
			if p.Preference == "" {
				continue
			}
			label := p.Preference
			if p.Choice != "" {
				label += ": " + p.Choice
			}
			items = append(items, Item{
				Label:    label,
				Percent:  percent(p.Percentage),
				Detail:   p.Reason,
				Priority: p.Priority,
			})
		}
		if len(items) > 0 {
			s.Blocks = append(s.Blocks, Block{Title: BlockPreferences, Items: items})
		}
	}

	if items := sectionItems(a.SpendingHabits); len(items) > 0 {
		s.Blocks = append(s.Blocks, Block{Title: BlockSpending, Items: items})
	}
	if items := sectionItems(a.GoaExperience); len(items) > 0 {
		s.Blocks = append(s.Blocks, Block{Title: BlockDestination, Items: items})
	}
	return s, len(s.Blocks) > 0
}

func percent(n models.Number) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func plainItems(labels []string) []Item {
	items := make([]Item, 0, len(labels))
	for _, l := range labels {
		items = append(items, Item{Label: l})
	}
	return items
}

func sectionItems(s *models.Section) []Item {
	if s.Empty() {
		return nil
	}
	if len(s.Entries) == 0 {
		return plainItems(s.List)
	}
	items := make([]Item, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Key == "" {
			continue
		}
		items = append(items, Item{Label: e.Key, Children: e.Items})
	}
	return items
}

func recommendationItems(recs []models.Recommendation) []Item {
	items := make([]Item, 0, len(recs))
	for _, r := range recs {
		switch r.Kind() {
		case models.RecommendationGroup:
			items = append(items, Item{Label: r.Category, Children: r.Items})
		case models.RecommendationSingle:
			items = append(items, Item{Label: r.Recommendation, Detail: r.Reason, Priority: r.Priority})
		default:
			if r.Text != "" {
				items = append(items, Item{Label: r.Text})
			}
		}
	}
	return items
}
