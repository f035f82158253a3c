package partition

import (
	"sort"

	"github.com/dslipak/pdf"

	"github.com/jepras/constructionrag/internal/models"
)

// Table and image regions are detected from the same content-stream model
// nativeExtract already draws text fragments from: dslipak/pdf's
// page.Content() also reports the page's vector-graphics rectangles
// (Content.Rect), which carry a page's ruled table borders and filled
// drawing/image regions.
const (
	lineThicknessPt        = 2.0
	minGridLines           = 4
	minTableRows           = 2
	fullPageImageThreshold = 0.15
)

// rectSpan classifies a content rect as a horizontal grid line, a vertical
// grid line, or a filled region (anything thicker than lineThicknessPt on
// both axes), the same distinction lattice-style table detectors draw from
// vector-graphics primitives.
func rectSpan(r pdf.Rect) (horizontal, vertical, filled bool) {
	w := r.Max.X - r.Min.X
	h := r.Max.Y - r.Min.Y
	switch {
	case h <= lineThicknessPt && w > lineThicknessPt:
		return true, false, false
	case w <= lineThicknessPt && h > lineThicknessPt:
		return false, true, false
	default:
		return false, false, true
	}
}

// pageExtent approximates a page's bounding box as the union of every
// fragment and rect dslipak/pdf reports for it; Page exposes no MediaBox
// accessor.
func pageExtent(fragments []textFragment, rects []pdf.Rect) Bbox {
	var b Bbox
	first := true
	extend := func(x, y float64) {
		if first {
			b = Bbox{x, y, x, y}
			first = false
			return
		}
		if x < b[0] {
			b[0] = x
		}
		if x > b[2] {
			b[2] = x
		}
		if y < b[1] {
			b[1] = y
		}
		if y > b[3] {
			b[3] = y
		}
	}
	for _, f := range fragments {
		extend(f.x, f.y)
		extend(f.x+f.w, f.y)
	}
	for _, r := range rects {
		extend(r.Min.X, r.Min.Y)
		extend(r.Max.X, r.Max.Y)
	}
	return b
}

// imageAreaRatio is the fraction of a page's extent covered by filled
// (non-line) rects. Embedded raster images and solid drawings share the
// same fill operators dslipak/pdf surfaces as Rect entries, so this value
// doubles as both the §4.6 "drawing-heavy" table-discard signal and the
// full-page-render trigger.
func imageAreaRatio(rects []pdf.Rect, extent Bbox) float64 {
	area := (extent[2] - extent[0]) * (extent[3] - extent[1])
	if area <= 0 {
		return 0
	}
	var covered float64
	for _, r := range rects {
		if _, _, filled := rectSpan(r); !filled {
			continue
		}
		covered += (r.Max.X - r.Min.X) * (r.Max.Y - r.Min.Y)
	}
	ratio := covered / area
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// detectTables finds the page's grid region from its line-like rects and,
// if the text enclosed by that region forms a plausible row/column layout,
// returns a single table element scored by ValidateTable. Fragments not
// consumed by an accepted table are returned unchanged for line grouping.
func detectTables(page int, fragments []textFragment, rects []pdf.Rect, imgRatio float64) ([]Element, []textFragment) {
	var hLines, vLines []pdf.Rect
	for _, r := range rects {
		h, v, _ := rectSpan(r)
		if h {
			hLines = append(hLines, r)
		}
		if v {
			vLines = append(vLines, r)
		}
	}
	if len(hLines)+len(vLines) < minGridLines {
		return nil, fragments
	}

	region := gridBbox(hLines, vLines)
	colBounds := columnBoundaries(vLines)

	var inside, outside []textFragment
	for _, f := range fragments {
		if withinBbox(f, region) {
			inside = append(inside, f)
		} else {
			outside = append(outside, f)
		}
	}
	if len(inside) == 0 {
		return nil, fragments
	}

	rows := groupTableRows(inside, colBounds)
	if len(rows) < minTableRows {
		return nil, fragments
	}

	confidence := tableConfidence(rows, len(colBounds))
	if !ValidateTable(rows, confidence, imgRatio) {
		return nil, fragments
	}

	bbox := region
	el := Element{
		Kind: models.ElementTable,
		Page: page,
		Bbox: &bbox,
		Table: TablePayload{
			Rows:       rows,
			Confidence: confidence,
		},
	}
	return []Element{el}, outside
}

func gridBbox(hLines, vLines []pdf.Rect) Bbox {
	var b Bbox
	first := true
	extend := func(r pdf.Rect) {
		if first {
			b = Bbox{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
			first = false
			return
		}
		if r.Min.X < b[0] {
			b[0] = r.Min.X
		}
		if r.Min.Y < b[1] {
			b[1] = r.Min.Y
		}
		if r.Max.X > b[2] {
			b[2] = r.Max.X
		}
		if r.Max.Y > b[3] {
			b[3] = r.Max.Y
		}
	}
	for _, r := range hLines {
		extend(r)
	}
	for _, r := range vLines {
		extend(r)
	}
	return b
}

func withinBbox(f textFragment, b Bbox) bool {
	return f.x >= b[0]-1 && f.x <= b[2]+1 && f.y >= b[1]-1 && f.y <= b[3]+1
}

// columnBoundaries returns the distinct x-positions of vertical grid lines,
// left to right, used to bucket row text into columns.
func columnBoundaries(vLines []pdf.Rect) []float64 {
	var xs []float64
	for _, r := range vLines {
		xs = append(xs, (r.Min.X+r.Max.X)/2)
	}
	sort.Float64s(xs)
	var out []float64
	for _, x := range xs {
		if len(out) == 0 || x-out[len(out)-1] > lineThicknessPt {
			out = append(out, x)
		}
	}
	return out
}

// groupTableRows clusters fragments into rows by baseline, the same
// same-line tolerance linesFromFragments uses, then splits each row into
// columns at the grid's vertical line positions.
func groupTableRows(fragments []textFragment, colBounds []float64) [][]string {
	sort.SliceStable(fragments, func(i, j int) bool {
		if roundTo(fragments[i].y, 2) != roundTo(fragments[j].y, 2) {
			return fragments[i].y > fragments[j].y
		}
		return fragments[i].x < fragments[j].x
	})

	const sameLineTolerance = 2.0
	var rows [][]textFragment
	var cur []textFragment
	flush := func() {
		if len(cur) > 0 {
			rows = append(rows, cur)
			cur = nil
		}
	}
	for _, f := range fragments {
		if len(cur) > 0 {
			last := cur[len(cur)-1]
			if roundTo(f.y, 0) < roundTo(last.y, 0)-sameLineTolerance || roundTo(f.y, 0) > roundTo(last.y, 0)+sameLineTolerance {
				flush()
			}
		}
		cur = append(cur, f)
	}
	flush()

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToCells(row, colBounds))
	}
	return out
}

func rowToCells(row []textFragment, colBounds []float64) []string {
	if len(colBounds) == 0 {
		var text string
		for i, f := range row {
			if i > 0 {
				text += " "
			}
			text += f.text
		}
		return []string{text}
	}

	cells := make([]string, len(colBounds)+1)
	for _, f := range row {
		idx := 0
		for idx < len(colBounds) && f.x >= colBounds[idx] {
			idx++
		}
		if cells[idx] != "" {
			cells[idx] += " "
		}
		cells[idx] += f.text
	}
	return cells
}

// tableConfidence scores grid regularity: the fraction of rows whose column
// count matches the detected grid's column count.
func tableConfidence(rows [][]string, colCount int) float64 {
	expected := colCount + 1
	if len(rows) == 0 {
		return 0
	}
	matching := 0
	for _, row := range rows {
		if len(row) == expected {
			matching++
		}
	}
	return float64(matching) / float64(len(rows))
}

// localComplexity buckets a page for DPIForComplexity ahead of the metadata
// step's own classification, which only runs once partition's elements
// already exist: a page with heavy filled-rect coverage is complex, one
// mixing a detected table with moderate image coverage is fragmented, light
// image coverage alone is simple, and a page with neither never renders a
// full-page element.
func localComplexity(tableCount int, imgRatio float64) models.PageComplexity {
	switch {
	case imgRatio > maxImageAreaRatio:
		return models.ComplexityComplex
	case tableCount > 0 && imgRatio > fullPageImageThreshold:
		return models.ComplexityFragmented
	case imgRatio > fullPageImageThreshold:
		return models.ComplexitySimple
	default:
		return models.ComplexityTextOnly
	}
}

// fullPageElement renders the page to PNG when its detected complexity
// warrants it (§4.6 "Pages containing images or dense diagrams"). page is
// 1-indexed; RenderPagePNG takes go-fitz's 0-indexed convention. Rendering
// failures are swallowed: full-page capture is supplementary to the text
// and table elements already extracted for the page.
func fullPageElement(path string, page, tableCount int, imgRatio float64) *Element {
	complexity := localComplexity(tableCount, imgRatio)
	if complexity == models.ComplexityTextOnly {
		return nil
	}
	dpi := DPIForComplexity(complexity, imgRatio)
	png, err := RenderPagePNG(path, page-1, dpi)
	if err != nil {
		return nil
	}
	return &Element{
		Kind:  models.ElementFullPage,
		Page:  page,
		Image: ImagePayload{PNG: png, DPI: dpi},
	}
}
