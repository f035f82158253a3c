package chunking

import (
	"math"
	"testing"

	"github.com/jepras/constructionrag/internal/models"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestSplitBboxProportionalToCharacterPosition(t *testing.T) {
	box := Bbox{10, 0, 50, 100} // x0,y0,x1,y1 ; height = 100
	totalLen := 1000

	first := SplitBbox(box, totalLen, 0, 500)
	if !almostEqual(first[1], 0) || !almostEqual(first[3], 50) {
		t.Errorf("first half y-range = [%v,%v], want [0,50]", first[1], first[3])
	}
	if first[0] != box[0] || first[2] != box[2] {
		t.Errorf("x0/x1 must be preserved, got [%v,%v]", first[0], first[2])
	}

	second := SplitBbox(box, totalLen, 500, 1000)
	if !almostEqual(second[1], 50) || !almostEqual(second[3], 100) {
		t.Errorf("second half y-range = [%v,%v], want [50,100]", second[1], second[3])
	}
}

func TestSplitBboxWholeElementIsIdentity(t *testing.T) {
	box := Bbox{1, 2, 3, 4}
	got := SplitBbox(box, 100, 0, 100)
	if got != box {
		t.Errorf("SplitBbox covering the full span = %v, want identity %v", got, box)
	}
}

func TestSplitBboxThreeWaySpansCoverWholeHeightWithoutGaps(t *testing.T) {
	box := Bbox{0, 0, 10, 300}
	totalLen := 900
	spans := [][2]int{{0, 300}, {300, 600}, {600, 900}}

	var prevY1 float64
	for i, span := range spans {
		got := SplitBbox(box, totalLen, span[0], span[1])
		if i > 0 && !almostEqual(got[1], prevY1) {
			t.Errorf("span %d starts at %v, want contiguous with previous end %v", i, got[1], prevY1)
		}
		prevY1 = got[3]
	}
	if !almostEqual(prevY1, box[3]) {
		t.Errorf("final split endpoint = %v, want %v", prevY1, box[3])
	}
}

func TestMergeBboxesUnion(t *testing.T) {
	boxes := []Bbox{
		{10, 10, 20, 20},
		{5, 15, 25, 30},
		{12, 0, 18, 40},
	}
	got := MergeBboxes(boxes)
	want := Bbox{5, 0, 25, 40}
	if got != want {
		t.Errorf("MergeBboxes() = %v, want %v", got, want)
	}
}

func TestMergeBboxesSingleIsIdentity(t *testing.T) {
	box := Bbox{1, 2, 3, 4}
	if got := MergeBboxes([]Bbox{box}); got != box {
		t.Errorf("MergeBboxes single = %v, want %v", got, box)
	}
}

func TestMergeAcrossPagesSinglePageCollapsesToOrdinaryBbox(t *testing.T) {
	contributions := []PageBbox{
		{Page: 3, Box: Bbox{0, 0, 10, 10}},
		{Page: 3, Box: Bbox{5, 5, 15, 15}},
	}

	primary, multi := MergeAcrossPages(contributions)
	if primary == nil {
		t.Fatal("expected non-nil primary bbox for single-page contributions")
	}
	if multi != nil {
		t.Errorf("expected no bbox_multi_page for single-page contributions, got %v", multi)
	}
	want := Bbox{0, 0, 15, 15}
	if *primary != want {
		t.Errorf("primary = %v, want %v", *primary, want)
	}
}

func TestMergeAcrossPagesMultiPageNullsPrimary(t *testing.T) {
	contributions := []PageBbox{
		{Page: 1, Box: Bbox{0, 0, 10, 10}},
		{Page: 2, Box: Bbox{1, 1, 11, 11}},
	}

	primary, multi := MergeAcrossPages(contributions)
	if primary != nil {
		t.Errorf("expected nil primary bbox for cross-page merge, got %v", *primary)
	}
	if len(multi) != 2 {
		t.Fatalf("expected 2 bbox_multi_page entries, got %d", len(multi))
	}
	if multi[0].Page != 1 || multi[1].Page != 2 {
		t.Errorf("expected page order preserved, got %v", multi)
	}
}

func TestMergeAcrossPagesResultTypeMatchesModel(t *testing.T) {
	_, multi := MergeAcrossPages([]PageBbox{
		{Page: 1, Box: Bbox{0, 0, 1, 1}},
		{Page: 2, Box: Bbox{0, 0, 1, 1}},
	})
	var _ []models.BboxMultiPage = multi
}
