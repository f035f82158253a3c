package metadata

import (
	"testing"

	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/partition"
)

func textEl(page int, role models.TextRole, content string) partition.Element {
	return partition.Element{
		Kind: models.ElementText,
		Page: page,
		Text: partition.TextPayload{Content: content, Role: role},
	}
}

func TestRunBuildsOutlineFromTitles(t *testing.T) {
	elements := []partition.Element{
		textEl(1, models.RoleTitle, "1 General Requirements"),
		textEl(1, models.RoleNarrativeText, "All work shall conform to code."),
		textEl(2, models.RoleTitle, "1.2 Foundations"),
	}

	res := Run(elements, 2)

	if len(res.Outline) != 2 {
		t.Fatalf("expected 2 outline sections, got %d", len(res.Outline))
	}
	if res.Outline[0].Level != 1 {
		t.Errorf("expected level 1 for '1 General Requirements', got %d", res.Outline[0].Level)
	}
	if res.Outline[1].Level != 2 {
		t.Errorf("expected level 2 for '1.2 Foundations', got %d", res.Outline[1].Level)
	}
	if res.Warnings != 0 {
		t.Errorf("expected no warnings, got %d", res.Warnings)
	}
}

func TestRunNoTitlesRecordsWarningNotFailure(t *testing.T) {
	elements := []partition.Element{
		textEl(1, models.RoleNarrativeText, "Plain body text with no headings."),
	}

	res := Run(elements, 1)

	if len(res.Outline) != 0 {
		t.Errorf("expected empty outline, got %v", res.Outline)
	}
	if res.Warnings != 1 {
		t.Errorf("expected 1 warning, got %d", res.Warnings)
	}
}

func TestClassifyComplexity(t *testing.T) {
	textOnly := []partition.Element{textEl(1, models.RoleNarrativeText, "text")}
	if got := classifyComplexity(textOnly); got != models.ComplexityTextOnly {
		t.Errorf("text-only page classified as %v", got)
	}

	withTable := append(textOnly, partition.Element{Kind: models.ElementTable, Page: 1})
	if got := classifyComplexity(withTable); got != models.ComplexitySimple {
		t.Errorf("single-table page classified as %v", got)
	}
}

func TestDetectLanguageDanishHints(t *testing.T) {
	elements := []partition.Element{
		textEl(1, models.RoleNarrativeText, "Dette arbejde skal udføres i overensstemmelse med gældende normer og standarder."),
	}
	if got := detectLanguage(elements); got != "da" {
		t.Errorf("expected da, got %q", got)
	}
}
