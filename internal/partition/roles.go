package partition

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jepras/constructionrag/internal/models"
)

var numberedPrefixPattern = regexp.MustCompile(`^\s*(\d+(\.\d+)*[.)]?|[A-Z](\.\d+)+[.)]?|[A-Z][.)])\s+\S`)

// ClassifyRole applies §4.6's native-strategy role heuristic: font size
// relative to the document's median, capitalization ratio, and numbered
// prefixes. medianFontSize of 0 disables the size signal (e.g. OCR input).
func ClassifyRole(text string, fontSize, medianFontSize float64) models.TextRole {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.RoleNarrativeText
	}

	if numberedPrefixPattern.MatchString(trimmed) && len(trimmed) < 120 {
		return models.RoleListItem
	}

	if medianFontSize > 0 && fontSize >= medianFontSize*1.3 && len(trimmed) < 150 {
		return models.RoleTitle
	}

	if isMostlyUppercase(trimmed) && len(trimmed) < 100 {
		return models.RoleTitle
	}

	return models.RoleNarrativeText
}

func isMostlyUppercase(s string) bool {
	letters, upper := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 3 {
		return false
	}
	return float64(upper)/float64(letters) >= 0.8
}

// MedianFontSize returns the median of a slice of font sizes, 0 for an empty
// slice. Used to set the document-level baseline role classification is
// relative to.
func MedianFontSize(sizes []float64) float64 {
	if len(sizes) == 0 {
		return 0
	}
	sorted := append([]float64(nil), sizes...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
