// Package metadata is the Metadata Step (C7, §4.7): derives a section
// outline and per-page metadata from a document's partitioned elements.
// Failure here is non-fatal — an outline that cannot be determined is
// recorded empty with a warning count rather than failing the step.
package metadata

import (
	"regexp"
	"strings"

	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/partition"
)

// Section is one node of the derived document outline.
type Section struct {
	Title string
	Level int
	Page  int
}

// PageInfo is the per-page output of the metadata step.
type PageInfo struct {
	Page       int
	Complexity models.PageComplexity
	Language   string
}

// Result is the complete metadata-step output for one document.
type Result struct {
	Outline  []Section
	Pages    []PageInfo
	Warnings int
}

var sectionNumberPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)*|[A-Z](?:\.\d+)*)(?:[.)]|\s)`)

// Run derives the outline and per-page metadata from a partitioned
// document (§4.7).
func Run(elements []partition.Element, pageCount int) Result {
	res := Result{Pages: buildPageInfos(elements, pageCount)}

	for _, el := range elements {
		if el.Kind != models.ElementText || el.Text.Role != models.RoleTitle {
			continue
		}
		level := sectionLevel(el.Text.Content)
		res.Outline = append(res.Outline, Section{
			Title: strings.TrimSpace(el.Text.Content),
			Level: level,
			Page:  el.Page,
		})
	}

	if len(res.Outline) == 0 {
		res.Warnings++
	}
	return res
}

// sectionLevel infers nesting depth from an explicit numbered prefix
// ("1" = 1, "1.2" = 2, "1.2.3" = 3); titles without one default to level 1.
func sectionLevel(title string) int {
	m := sectionNumberPattern.FindStringSubmatch(title)
	if len(m) == 0 {
		return 1
	}
	return strings.Count(m[1], ".") + 1
}

func buildPageInfos(elements []partition.Element, pageCount int) []PageInfo {
	byPage := make(map[int][]partition.Element, pageCount)
	for _, el := range elements {
		byPage[el.Page] = append(byPage[el.Page], el)
	}

	pages := make([]PageInfo, 0, pageCount)
	for p := 1; p <= pageCount; p++ {
		els := byPage[p]
		pages = append(pages, PageInfo{
			Page:       p,
			Complexity: classifyComplexity(els),
			Language:   detectLanguage(els),
		})
	}
	return pages
}

func classifyComplexity(elements []partition.Element) models.PageComplexity {
	var text, tables, images int
	for _, el := range elements {
		switch el.Kind {
		case models.ElementText:
			text++
		case models.ElementTable:
			tables++
		case models.ElementImage, models.ElementFullPage:
			images++
		}
	}

	switch {
	case tables == 0 && images == 0:
		return models.ComplexityTextOnly
	case tables+images <= 2:
		return models.ComplexitySimple
	case text > 0 && tables+images > 2:
		return models.ComplexityFragmented
	default:
		return models.ComplexityComplex
	}
}

// danishHints are common Danish function words that rarely appear in
// English technical prose, used as a cheap language signal ahead of the
// overall-document majority-language fallback (§4.7).
var danishHints = []string{" og ", " ikke ", " skal ", " for ", " på ", " med ", "æ", "ø", "å"}

func detectLanguage(elements []partition.Element) string {
	var text strings.Builder
	for _, el := range elements {
		if el.Kind == models.ElementText {
			text.WriteString(el.Text.Content)
			text.WriteString(" ")
		}
	}
	lower := strings.ToLower(text.String())
	if lower == "" {
		return ""
	}

	hits := 0
	for _, hint := range danishHints {
		if strings.Contains(lower, hint) {
			hits++
		}
	}
	if hits >= 2 {
		return "da"
	}
	return "en"
}

// DocumentMajorityLanguage is the fallback used when a page's own text is
// too sparse to classify (§4.7).
func DocumentMajorityLanguage(pages []PageInfo) string {
	counts := make(map[string]int, 2)
	for _, p := range pages {
		if p.Language != "" {
			counts[p.Language]++
		}
	}
	best, bestCount := "da", 0
	for lang, count := range counts {
		if count > bestCount {
			best, bestCount = lang, count
		}
	}
	return best
}
