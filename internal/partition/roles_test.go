package partition

import (
	"testing"

	"github.com/jepras/constructionrag/internal/models"
)

func TestClassifyRole(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		fontSize float64
		median   float64
		want     models.TextRole
	}{
		{"numbered list item", "1.2 Install rebar per drawing S-04", 10, 10, models.RoleListItem},
		{"lettered list item", "A.1 Foundation notes", 10, 10, models.RoleListItem},
		{"large font title", "FOUNDATION PLAN", 20, 10, models.RoleTitle},
		{"uppercase short title", "GENERAL NOTES", 10, 10, models.RoleTitle},
		{"narrative text", "All concrete shall conform to the project specification document.", 10, 10, models.RoleNarrativeText},
		{"empty text", "", 10, 10, models.RoleNarrativeText},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifyRole(c.text, c.fontSize, c.median); got != c.want {
				t.Errorf("ClassifyRole(%q) = %v, want %v", c.text, got, c.want)
			}
		})
	}
}

func TestMedianFontSize(t *testing.T) {
	if got := MedianFontSize(nil); got != 0 {
		t.Errorf("MedianFontSize(nil) = %v, want 0", got)
	}
	if got := MedianFontSize([]float64{10, 12, 11}); got != 11 {
		t.Errorf("MedianFontSize odd = %v, want 11", got)
	}
	if got := MedianFontSize([]float64{10, 14, 11, 13}); got != 12 {
		t.Errorf("MedianFontSize even = %v, want 12", got)
	}
}
