package report

import (
	"regexp"
	"strings"
	"time"
)

const (
	VariantProfessional = "professional"
	VariantCompact      = "compact"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	pathUnsafe    = strings.NewReplacer("/", "_", "\\", "_", ":", "_")
)

// Filename names the exported PDF:
//
//	professional: VibeReport_<Name_With_Underscores>_<YYYY-MM-DD>.pdf
//	compact:      vibe-report-<slug>.pdf
func Filename(variant, name string, at time.Time) string {
	name = pathUnsafe.Replace(strings.TrimSpace(name))
	if name == "" {
		name = "Guest"
	}

	if variant == VariantCompact {
		slug := strings.ToLower(whitespaceRun.ReplaceAllString(name, "-"))
		return "vibe-report-" + slug + ".pdf"
	}
	return "VibeReport_" + whitespaceRun.ReplaceAllString(name, "_") + "_" + at.UTC().Format("2006-01-02") + ".pdf"
}
