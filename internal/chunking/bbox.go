// Package chunking is the Chunking Step (C9, §4.9): groups partitioned
// elements into semantically coherent text units sized to target/overlap/
// hard-max bounds, propagating bbox geometry across every split and merge.
package chunking

import "github.com/jepras/constructionrag/internal/models"

// Bbox is a PDF-points rectangle [x0, y0, x1, y1].
type Bbox = [4]float64

// SplitBbox distributes an element's bbox vertically, proportional to
// character position, per §4.9: for a chunk spanning characters [start, end)
// of an element of total length totalLen, y0'/y1' interpolate across the
// element's height while x0/x1 are kept unchanged. Confidence is always
// estimated for a split result — callers set that on the chunk directly.
func SplitBbox(box Bbox, totalLen, start, end int) Bbox {
	if totalLen <= 0 {
		return box
	}
	x0, y0, x1, y1 := box[0], box[1], box[2], box[3]
	h := y1 - y0

	fracStart := float64(start) / float64(totalLen)
	fracEnd := float64(end) / float64(totalLen)

	return Bbox{
		x0,
		y0 + h*fracStart,
		x1,
		y0 + h*fracEnd,
	}
}

// MergeBboxes returns the axis-aligned union of one or more bboxes, per
// §4.9's merge rule: x0=min, y0=min, x1=max, y1=max.
func MergeBboxes(boxes []Bbox) Bbox {
	merged := boxes[0]
	for _, b := range boxes[1:] {
		if b[0] < merged[0] {
			merged[0] = b[0]
		}
		if b[1] < merged[1] {
			merged[1] = b[1]
		}
		if b[2] > merged[2] {
			merged[2] = b[2]
		}
		if b[3] > merged[3] {
			merged[3] = b[3]
		}
	}
	return merged
}

// PageBbox pairs a page number with the bbox contributed on that page, the
// unit a cross-page merge carries forward as bbox_multi_page.
type PageBbox struct {
	Page int
	Box  Bbox
}

// MergeAcrossPages implements §4.9's cross-page rule: if contributions span
// more than one page, the primary bbox is nil and an auxiliary
// bbox_multi_page list carries one merged box per page. A single-page
// contribution set still collapses to one ordinary bbox.
func MergeAcrossPages(contributions []PageBbox) (primary *Bbox, multiPage []models.BboxMultiPage) {
	byPage := make(map[int][]Bbox)
	var pageOrder []int
	for _, c := range contributions {
		if _, ok := byPage[c.Page]; !ok {
			pageOrder = append(pageOrder, c.Page)
		}
		byPage[c.Page] = append(byPage[c.Page], c.Box)
	}

	if len(pageOrder) == 1 {
		merged := MergeBboxes(byPage[pageOrder[0]])
		return &merged, nil
	}

	for _, page := range pageOrder {
		merged := MergeBboxes(byPage[page])
		multiPage = append(multiPage, models.BboxMultiPage{Page: page, Bbox: merged})
	}
	return nil, multiPage
}
