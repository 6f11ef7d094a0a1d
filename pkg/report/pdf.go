package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"vibe-report/pkg/models"

	"github.com/go-pdf/fpdf"
)

var ErrExport = errors.New("PDF generation failed")

const (
	pdfMargin     = 20.0
	headerBand    = 40.0
	footerOffset  = 15.0
	scoreBarShare = 0.6
	traitBarShare = 0.4
	bodyLeading   = 4.5
	footerTitle   = "Get Your Vibe Report - Travel Personality Analysis"
	responseLimit = 200
)

type rgb struct{ r, g, b int }

var (
	colorPrimary   = rgb{30, 64, 175}
	colorSecondary = rgb{55, 65, 81}
	colorAccent    = rgb{5, 150, 105}
	colorDanger    = rgb{220, 38, 38}
	colorMuted     = rgb{107, 114, 128}
	colorBoxFill   = rgb{248, 250, 252}
	colorInfoFill  = rgb{240, 249, 255}
	colorWhite     = rgb{255, 255, 255}
)

type PDFOptions struct {
	// Contact falls back to the result's userData when empty.
	Contact models.ContactInfo
	// Questions are the prompts shown to the user; the result's own
	// questions are used when empty.
	Questions   []string
	GeneratedAt time.Time
	Variant     string
	// Method is printed in the report information block.
	Method   string
	Compress bool
}

// ExportStats describes the produced document.
type ExportStats struct {
	Pages         int     `json:"pages"`
	ScoreBarWidth float64 `json:"score_bar_width"`
	ScoreBarMax   float64 `json:"score_bar_max"`
}

// ExportPDF writes the report for r to w. Any failure, including a panic
// inside the PDF library, is returned wrapped in ErrExport.
func ExportPDF(w io.Writer, r *models.AnalysisResult, opts PDFOptions) (stats ExportStats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stats = ExportStats{}
			err = fmt.Errorf("%w: %v", ErrExport, rec)
		}
	}()

	if r == nil {
		return ExportStats{}, fmt.Errorf("%w: no result", ErrExport)
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now()
	}
	if opts.Contact == (models.ContactInfo{}) && r.UserData != nil {
		opts.Contact = *r.UserData
	}
	if len(opts.Questions) == 0 {
		opts.Questions = r.Questions
	}
	if opts.Method == "" {
		opts.Method = "AI-Powered Voice Analysis"
	}

	e := newPDFExporter(opts)
	e.render(r)

	if e.pdf.Err() {
		return ExportStats{}, fmt.Errorf("%w: %v", ErrExport, e.pdf.Error())
	}
	e.stats.Pages = e.pdf.PageCount()
	if err := e.pdf.Output(w); err != nil {
		return ExportStats{}, fmt.Errorf("%w: %v", ErrExport, err)
	}
	return e.stats, nil
}

type pdfExporter struct {
	pdf      *fpdf.Fpdf
	opts     PDFOptions
	pageW    float64
	pageH    float64
	contentW float64
	y        float64
	stats    ExportStats
}

func newPDFExporter(opts PDFOptions) *pdfExporter {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(opts.Compress)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AliasNbPages("")
	pdf.SetTitle("Vibe Report", false)
	pdf.SetSubject("Travel Personality Analysis", false)
	pdf.SetCreator("vibereport", false)
	pdf.SetCreationDate(opts.GeneratedAt)

	w, h := pdf.GetPageSize()
	e := &pdfExporter{
		pdf:      pdf,
		opts:     opts,
		pageW:    w,
		pageH:    h,
		contentW: w - 2*pdfMargin,
	}
	e.stats.ScoreBarMax = e.contentW * scoreBarShare

	pdf.SetHeaderFunc(e.header)
	pdf.SetFooterFunc(e.footer)
	return e
}

func (e *pdfExporter) render(r *models.AnalysisResult) {
	e.pdf.AddPage()
	e.titleBand()

	compact := e.opts.Variant == VariantCompact
	name := cleanText(e.opts.Contact.Name)

	if !compact {
		who := name
		if who == "" {
			who = "you"
		}
		e.box(fmt.Sprintf("This comprehensive travel personality analysis was generated on %s for %s. "+
			"The analysis provides detailed insights into your travel preferences, personality traits, "+
			"and personalized recommendations for your future adventures.",
			e.opts.GeneratedAt.Format("January 2, 2006"), who), colorBoxFill)
	}

	e.personalInfo()
	e.questions()
	e.responses(r.TranscriptionText())

	view := Build(r)
	if s, ok := view.Section(SectionAnalysis); ok {
		e.analysis(s)
	}
	if s, ok := view.Section(SectionInsights); ok {
		e.insights(s)
	}

	if !compact {
		e.reportInfo(name)
	}
}

func (e *pdfExporter) header() {
	if e.pdf.PageNo() == 1 {
		return
	}
	e.setFont(8, false, colorMuted)
	e.pdf.Text(pdfMargin, 15, footerTitle)
}

func (e *pdfExporter) footer() {
	y := e.pageH - footerOffset
	e.setDraw(colorPrimary, 0.3)
	e.pdf.Line(pdfMargin, y, e.pageW-pdfMargin, y)

	e.setFont(8, false, colorMuted)
	e.pdf.Text(pdfMargin, e.pageH-10, footerTitle)
	page := fmt.Sprintf("Page %d of {nb}", e.pdf.PageNo())
	e.pdf.Text(e.pageW-pdfMargin-20, e.pageH-10, page)
}

func (e *pdfExporter) titleBand() {
	e.setFill(colorPrimary)
	e.pdf.Rect(0, 0, e.pageW, headerBand, "F")

	e.setFont(24, true, colorWhite)
	e.pdf.Text(pdfMargin, 25, "VIBE REPORT")
	e.setFont(12, false, colorWhite)
	e.pdf.Text(pdfMargin, 32, "Your Travel Personality Analysis")

	e.y = headerBand + 10
}

func (e *pdfExporter) personalInfo() {
	c := e.opts.Contact
	e.section("Personal Information")
	if c.Name != "" {
		e.text("Full Name: "+c.Name, 11, false, colorSecondary)
	}
	if c.Email != "" {
		e.text("Email Address: "+c.Email, 11, false, colorSecondary)
	}
	if c.Phone != "" {
		e.text("Phone Number: "+c.Phone, 11, false, colorSecondary)
	}
	e.text("Analysis Date: "+e.opts.GeneratedAt.Format("January 2, 2006 at 03:04 PM"), 11, false, colorSecondary)
}

func (e *pdfExporter) questions() {
	if len(e.opts.Questions) == 0 {
		return
	}
	e.section("Analysis Questions")
	e.text("The following questions were used to analyze your travel personality:", 10, false, colorMuted)
	for i, q := range e.opts.Questions {
		e.text(fmt.Sprintf("%d. %s", i+1, q), 10, false, colorSecondary)
	}
}

func (e *pdfExporter) responses(transcription string) {
	text := cleanText(transcription)
	if text == "" {
		return
	}
	if len(text) > responseLimit {
		text = text[:responseLimit] + "..."
	}
	e.section("Your Responses")
	e.text("Based on your recorded responses, here's what you shared:", 10, false, colorMuted)
	e.y += 5
	e.box(text, colorBoxFill)
}

func (e *pdfExporter) analysis(s Section) {
	e.section(s.Title)

	score, hasScore := s.Block(BlockScore)
	confidence, hasConfidence := s.Block(BlockConfidence)
	if hasScore || hasConfidence {
		e.text("Assessment Summary", 12, true, colorPrimary)
		if hasScore && score.Score != nil {
			e.text("Overall Compatibility Score: "+score.Text, 11, true, colorAccent)
			e.scoreBar(*score.Score)
		}
		if hasConfidence {
			e.text("Analysis Confidence: "+confidence.Text, 10, false, colorMuted)
		}
		e.y += 5
	}

	for _, b := range s.Blocks {
		switch b.Title {
		case BlockTraits, BlockPreferences:
			e.text(b.Title, 12, true, colorPrimary)
			e.percentList(b.Items)
			e.y += 6
		case BlockSpending, BlockDestination:
			e.text(b.Title, 12, true, colorPrimary)
			e.groupedList(b.Items, colorSecondary)
			e.y += 6
		}
	}
}

func (e *pdfExporter) insights(s Section) {
	e.section(s.Title)

	for _, b := range s.Blocks {
		switch b.Title {
		case BlockWhyUseful:
			e.text("Analysis Value", 12, true, colorPrimary)
			e.box(b.Text, colorInfoFill)
		case BlockBenefits:
			e.text(b.Title, 12, true, colorPrimary)
			e.bullets(b.Labels(), colorAccent)
			e.y += 6
		case BlockOpportunities:
			e.text(b.Title, 12, true, colorPrimary)
			e.bullets(b.Labels(), colorPrimary)
			e.y += 6
		case BlockRecommendations:
			e.text(b.Title, 12, true, colorPrimary)
			e.recommendations(b.Items)
			e.y += 6
		}
	}
}

func (e *pdfExporter) recommendations(items []Item) {
	for _, it := range items {
		switch {
		case len(it.Children) > 0:
			e.groupedList([]Item{it}, colorDanger)
		default:
			line := "- " + it.Label
			if it.Priority != "" {
				line += " (" + it.Priority + ")"
			}
			e.text(line, 10, false, colorDanger)
			if it.Detail != "" {
				e.text("  "+it.Detail, 9, false, colorMuted)
			}
		}
	}
}

func (e *pdfExporter) reportInfo(name string) {
	e.section("Report Information")
	for _, line := range []string{
		"Report Generated: " + e.opts.GeneratedAt.Format("January 2, 2006 at 03:04 PM MST"),
		"Analysis Method: " + e.opts.Method,
		"Report Version: 1.0",
		"Confidentiality: This report is confidential and intended solely for " + name,
	} {
		e.text(line, 9, false, colorMuted)
	}

	e.y += 10
	e.text("Disclaimer", 10, true, colorSecondary)
	e.text("This analysis is based on voice recordings and responses provided during the assessment. "+
		"Results should be considered as insights and recommendations rather than definitive personality "+
		"assessments. Individual experiences may vary.", 8, false, colorMuted)
}

// need starts a new page when the cursor is within limit of the page bottom.
func (e *pdfExporter) need(limit float64) {
	if e.y > e.pageH-limit {
		e.pdf.AddPage()
		e.y = 25
	}
}

func (e *pdfExporter) section(title string) {
	e.need(50)
	e.y += 10

	title = cleanText(title)
	e.setFont(16, true, colorPrimary)
	e.pdf.Text(pdfMargin, e.y, title)

	e.setDraw(colorPrimary, 0.5)
	e.pdf.Line(pdfMargin, e.y+2, pdfMargin+e.pdf.GetStringWidth(title), e.y+2)
	e.y += 10
}

func (e *pdfExporter) text(s string, size float64, bold bool, c rgb) {
	s = cleanText(s)
	if s == "" {
		return
	}
	e.setFont(size, bold, c)
	for _, line := range e.pdf.SplitLines([]byte(s), e.contentW) {
		e.need(30)
		e.pdf.Text(pdfMargin, e.y, string(line))
		e.y += leading(size)
	}
	e.y += 2
}

func (e *pdfExporter) box(s string, fill rgb) {
	s = cleanText(s)
	if s == "" {
		return
	}
	e.need(40)

	e.setFont(10, false, colorSecondary)
	lines := e.pdf.SplitLines([]byte(s), e.contentW-10)
	height := math.Max(15, float64(len(lines))*bodyLeading+10)

	if e.y-5+height > e.pageH-25 {
		e.pdf.AddPage()
		e.y = 25
	}
	if e.y-5+height > e.pageH-25 {
		// Taller than a page: plain wrapped text instead of a box.
		e.text(s, 10, false, colorSecondary)
		return
	}

	top := e.y - 5
	e.setFill(fill)
	e.setDraw(colorPrimary, 0.3)
	e.pdf.Rect(pdfMargin, top, e.contentW, height, "FD")

	e.setFont(10, false, colorSecondary)
	for i, line := range lines {
		e.pdf.Text(pdfMargin+5, top+9+float64(i)*bodyLeading, string(line))
	}
	e.y += height + 6
}

func (e *pdfExporter) bullets(items []string, dot rgb) {
	for _, item := range items {
		item = cleanText(item)
		if item == "" {
			continue
		}
		e.need(20)
		e.setFill(dot)
		e.pdf.Circle(pdfMargin+3, e.y-1.2, 1, "F")

		e.setFont(10, false, colorSecondary)
		for _, line := range e.pdf.SplitLines([]byte(item), e.contentW-15) {
			e.need(20)
			e.pdf.Text(pdfMargin+8, e.y, string(line))
			e.y += bodyLeading
		}
		e.y += 2
	}
}

// percentList renders "Label (P%) - detail" bullets, each followed by a bar.
func (e *pdfExporter) percentList(items []Item) {
	for _, it := range items {
		line := it.Label
		if it.Percent != nil {
			line += fmt.Sprintf(" (%s%%)", formatNumber(*it.Percent))
		}
		if it.Priority != "" {
			line += " [" + it.Priority + "]"
		}
		if it.Detail != "" {
			line += " - " + it.Detail
		}
		e.bullets([]string{line}, colorAccent)

		if it.Percent != nil {
			e.need(20)
			full := e.contentW * traitBarShare
			e.setFill(colorAccent)
			e.pdf.Rect(pdfMargin+8, e.y-2, clamp(*it.Percent, 0, 100)/100*full, 2.5, "F")
			e.setDraw(colorMuted, 0.2)
			e.pdf.Rect(pdfMargin+8, e.y-2, full, 2.5, "D")
			e.y += 4
		}
	}
}

func (e *pdfExporter) groupedList(items []Item, heading rgb) {
	for _, it := range items {
		if len(it.Children) == 0 {
			e.bullets([]string{it.Label}, colorAccent)
			continue
		}
		e.text(it.Label+":", 10, true, heading)
		for _, c := range it.Children {
			e.text("  - "+c, 9, false, colorMuted)
		}
		e.y += 2
	}
}

func (e *pdfExporter) scoreBar(score float64) {
	e.need(30)
	width := clamp(score, 0, 100) / 100 * e.stats.ScoreBarMax
	e.stats.ScoreBarWidth = width

	e.setFill(colorAccent)
	e.pdf.Rect(pdfMargin, e.y-2, width, 5, "F")
	e.setDraw(colorMuted, 0.3)
	e.pdf.Rect(pdfMargin, e.y-2, e.stats.ScoreBarMax, 5, "D")
	e.y += 10
}

func (e *pdfExporter) setFont(size float64, bold bool, c rgb) {
	style := ""
	if bold {
		style = "B"
	}
	e.pdf.SetFont("Helvetica", style, size)
	e.pdf.SetTextColor(c.r, c.g, c.b)
}

func (e *pdfExporter) setFill(c rgb) {
	e.pdf.SetFillColor(c.r, c.g, c.b)
}

func (e *pdfExporter) setDraw(c rgb, width float64) {
	e.pdf.SetDrawColor(c.r, c.g, c.b)
	e.pdf.SetLineWidth(width)
}

// leading converts a point size to a line advance in mm.
func leading(size float64) float64 {
	return size * 0.5
}

var spaceRun = regexp.MustCompile(` +`)

// cleanText keeps printable ASCII, folding any whitespace to single spaces.
func cleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r >= 0x20 && r <= 0x7e:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(b.String(), " "))
}
