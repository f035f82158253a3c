package chunking

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/partition"
)

const (
	targetSize  = 1000
	overlapSize = 200
	hardMax     = 1200
	minSize     = 100
)

// Draft is one chunk candidate prior to embedding and persistence.
type Draft struct {
	Content         string
	SectionTitle    string
	Page            int
	Bbox            *Bbox
	BboxMultiPage   []models.BboxMultiPage
	BboxConfidence  models.BboxConfidence
	ElementCategory models.ElementKind
}

// span locates a byte range of group text within one source element.
type span struct {
	elementIdx int
	start, end int // offsets into the element's own content, not the group text
	groupStart int // offset into the concatenated group text
}

// Run applies §4.9's algorithm: reading-order grouping by section, recursive
// size-targeted splitting, small-chunk merging, and bbox propagation.
func Run(elements []partition.Element) []Draft {
	ordered := readingOrder(elements)

	var drafts []Draft
	var group []int
	var groupSection string
	currentSection := ""

	flushGroup := func() {
		if len(group) == 0 {
			return
		}
		drafts = append(drafts, chunkTextGroup(ordered, group, groupSection)...)
		group = nil
	}

	for i, el := range ordered {
		switch el.Kind {
		case models.ElementText:
			if el.Text.Role == models.RoleTitle {
				currentSection = strings.TrimSpace(el.Text.Content)
			}
			if len(group) > 0 && groupSection != currentSection {
				flushGroup()
			}
			groupSection = currentSection
			group = append(group, i)
		default:
			flushGroup()
			drafts = append(drafts, nonTextDraft(el, currentSection))
		}
	}
	flushGroup()

	return mergeSmallChunks(drafts)
}

func readingOrder(elements []partition.Element) []partition.Element {
	ordered := make([]partition.Element, len(elements))
	copy(ordered, elements)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		ay0, ax0 := 0.0, 0.0
		by0, bx0 := 0.0, 0.0
		if a.Bbox != nil {
			ay0, ax0 = a.Bbox[1], a.Bbox[0]
		}
		if b.Bbox != nil {
			by0, bx0 = b.Bbox[1], b.Bbox[0]
		}
		if ay0 != by0 {
			return ay0 < by0
		}
		return ax0 < bx0
	})
	return ordered
}

// chunkTextGroup concatenates a run of same-section text elements, splits
// the concatenation to target/overlap/hard-max bounds, and propagates bbox
// geometry per element contribution.
func chunkTextGroup(elements []partition.Element, indices []int, sectionTitle string) []Draft {
	var groupText strings.Builder
	var spans []span

	for _, idx := range indices {
		content := elements[idx].Text.Content
		start := groupText.Len()
		if start > 0 {
			groupText.WriteString("\n\n")
			start = groupText.Len()
		}
		groupText.WriteString(content)
		spans = append(spans, span{elementIdx: idx, start: 0, end: len(content), groupStart: start})
	}

	text := groupText.String()
	boundaries := splitBoundaries(text)

	var drafts []Draft
	for _, b := range boundaries {
		chunkText := strings.TrimSpace(text[b.start:b.end])
		if chunkText == "" {
			continue
		}
		drafts = append(drafts, buildDraft(elements, spans, b.start, b.end, chunkText, sectionTitle))
	}
	return drafts
}

type textRange struct{ start, end int }

// splitBoundaries walks the concatenated text and emits chunk ranges
// targeting targetSize chars, preferring to break at a paragraph or
// sentence boundary, never exceeding hardMax, with overlapSize chars of
// context repeated at the start of each chunk after the first.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

func splitBoundaries(text string) []textRange {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= hardMax {
		return []textRange{{0, len(text)}}
	}

	var ranges []textRange
	pos := 0
	for pos < len(text) {
		end := pos + targetSize
		if end >= len(text) {
			ranges = append(ranges, textRange{pos, len(text)})
			break
		}
		if end > pos+hardMax {
			end = pos + hardMax
		}

		cut := bestBoundary(text, pos, end)
		ranges = append(ranges, textRange{pos, cut})

		next := cut - overlapSize
		if next <= pos {
			next = cut
		}
		pos = next
	}
	return ranges
}

// bestBoundary looks for the last paragraph break before targetEnd, falling
// back to the last sentence break before hardLimit, else hard-cuts at
// hardLimit.
func bestBoundary(text string, start, targetEnd int) int {
	hardLimit := start + hardMax
	if hardLimit > len(text) {
		hardLimit = len(text)
	}
	window := text[start:hardLimit]

	if idx := strings.LastIndex(window[:min(len(window), targetEnd-start)], "\n\n"); idx > 0 {
		return start + idx
	}
	if loc := sentenceBoundary.FindAllStringIndex(window, -1); len(loc) > 0 {
		for i := len(loc) - 1; i >= 0; i-- {
			if start+loc[i][1] <= hardLimit {
				return start + loc[i][1]
			}
		}
	}
	return hardLimit
}

// buildDraft resolves which elements a [start,end) group-text range draws
// from and derives the chunk's bbox per §4.9.
func buildDraft(elements []partition.Element, spans []span, start, end int, content, sectionTitle string) Draft {
	var contributions []PageBbox
	missingBbox := false
	touched := 0
	var page int

	for _, s := range spans {
		spanEnd := s.groupStart + (s.end - s.start)
		if spanEnd <= start || s.groupStart >= end {
			continue
		}
		touched++
		el := elements[s.elementIdx]
		page = el.Page

		localStart := max(0, start-s.groupStart)
		localEnd := min(s.end-s.start, end-s.groupStart)

		if el.Bbox == nil {
			missingBbox = true
			continue
		}
		box := Bbox(*el.Bbox)
		if localStart == 0 && localEnd == s.end-s.start {
			contributions = append(contributions, PageBbox{Page: el.Page, Box: box})
		} else {
			contributions = append(contributions, PageBbox{Page: el.Page, Box: SplitBbox(box, s.end-s.start, localStart, localEnd)})
		}
	}

	draft := Draft{
		Content:         content,
		SectionTitle:    sectionTitle,
		Page:            page,
		ElementCategory: models.ElementText,
	}

	switch {
	case missingBbox && len(contributions) == 0:
		// no bbox available at all
	case touched == 1 && len(contributions) == 1:
		b := contributions[0].Box
		draft.Bbox = &b
		draft.BboxConfidence = models.BboxEstimated
	default:
		primary, multi := MergeAcrossPages(contributions)
		draft.Bbox = primary
		draft.BboxMultiPage = multi
		draft.BboxConfidence = models.BboxMerged
	}

	return draft
}

// nonTextDraft converts a table/image/full-page element directly into a
// single chunk. A VLM caption, when present, is prepended to the content
// and the element's original bbox is retained at precise confidence (§4.9).
func nonTextDraft(el partition.Element, sectionTitle string) Draft {
	var content, caption string
	switch el.Kind {
	case models.ElementTable:
		caption = el.Table.Caption
		content = renderTableText(el.Table.Rows)
	case models.ElementImage, models.ElementFullPage:
		caption = el.Image.Caption
	}
	if caption != "" {
		if content != "" {
			content = caption + "\n\n" + content
		} else {
			content = caption
		}
	}

	draft := Draft{
		Content:         content,
		SectionTitle:    sectionTitle,
		Page:            el.Page,
		ElementCategory: el.Kind,
	}
	if el.Bbox != nil {
		b := Bbox(*el.Bbox)
		draft.Bbox = &b
		if caption != "" {
			draft.BboxConfidence = models.BboxPrecise
		} else {
			draft.BboxConfidence = models.BboxEstimated
		}
	}
	return draft
}

func renderTableText(rows [][]string) string {
	var out strings.Builder
	for _, row := range rows {
		out.WriteString(strings.Join(row, " | "))
		out.WriteString("\n")
	}
	return out.String()
}

// mergeSmallChunks merges any chunk under minSize chars into its successor,
// provided the combined length stays within hardMax (§4.9).
func mergeSmallChunks(drafts []Draft) []Draft {
	var out []Draft
	i := 0
	for i < len(drafts) {
		cur := drafts[i]
		for len(cur.Content) < minSize && i+1 < len(drafts) && len(cur.Content)+len(drafts[i+1].Content) <= hardMax {
			cur = combineDrafts(cur, drafts[i+1])
			i++
		}
		out = append(out, cur)
		i++
	}
	return out
}

func combineDrafts(a, b Draft) Draft {
	combined := Draft{
		Content:         a.Content + "\n\n" + b.Content,
		SectionTitle:    a.SectionTitle,
		Page:            a.Page,
		ElementCategory: a.ElementCategory,
	}

	var contributions []PageBbox
	if a.Bbox != nil {
		contributions = append(contributions, PageBbox{Page: a.Page, Box: *a.Bbox})
	}
	for _, m := range a.BboxMultiPage {
		contributions = append(contributions, PageBbox{Page: m.Page, Box: m.Bbox})
	}
	if b.Bbox != nil {
		contributions = append(contributions, PageBbox{Page: b.Page, Box: *b.Bbox})
	}
	for _, m := range b.BboxMultiPage {
		contributions = append(contributions, PageBbox{Page: m.Page, Box: m.Bbox})
	}

	if len(contributions) == 0 {
		return combined
	}
	primary, multi := MergeAcrossPages(contributions)
	combined.Bbox = primary
	combined.BboxMultiPage = multi
	combined.BboxConfidence = models.BboxMerged
	return combined
}
