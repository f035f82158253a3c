package partition

import (
	"fmt"
	"sort"

	"github.com/dslipak/pdf"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
)

// textFragment is one positioned run of text as dslipak/pdf's content model
// reports it.
type textFragment struct {
	page     int
	x, y, w  float64
	fontSize float64
	text     string
}

// nativeExtract runs the native (fast-path) strategy: structured text access
// via dslipak/pdf, grouped into lines and classified by ClassifyRole. Table
// regions are detected from the same content model's vector-graphics rects,
// and pages with enough image/drawing coverage get a rendered full-page
// element alongside. It returns the per-page plain-text lengths (for
// ClassifyDocumentType) and every element produced.
func nativeExtract(path string) ([]int, []Element, int, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, 0, apperr.NewPartitionError(apperr.KindUnreadable, fmt.Sprintf("open %s: %v", path, err))
	}

	numPages := r.NumPage()
	pageTextLengths := make([]int, 0, numPages)
	fragmentsByPage := make(map[int][]textFragment, numPages)
	rectsByPage := make(map[int][]pdf.Rect, numPages)
	var allFontSizes []float64

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pageTextLengths = append(pageTextLengths, 0)
			continue
		}

		plain, _ := page.GetPlainText(nil)
		pageTextLengths = append(pageTextLengths, len(plain))

		content := page.Content()
		for _, t := range content.Text {
			if t.S == "" {
				continue
			}
			fragmentsByPage[i] = append(fragmentsByPage[i], textFragment{
				page: i, x: t.X, y: t.Y, w: t.W, fontSize: t.FontSize, text: t.S,
			})
			allFontSizes = append(allFontSizes, t.FontSize)
		}
		rectsByPage[i] = content.Rect
	}

	median := MedianFontSize(allFontSizes)

	var elements []Element
	for i := 1; i <= numPages; i++ {
		pageFragments := fragmentsByPage[i]
		rects := rectsByPage[i]
		extent := pageExtent(pageFragments, rects)
		imgRatio := imageAreaRatio(rects, extent)

		tableEls, remaining := detectTables(i, pageFragments, rects, imgRatio)
		elements = append(elements, tableEls...)
		elements = append(elements, linesFromFragments(remaining, median)...)

		if full := fullPageElement(path, i, len(tableEls), imgRatio); full != nil {
			elements = append(elements, *full)
		}
	}

	return pageTextLengths, elements, numPages, nil
}

// linesFromFragments groups same-page, same-baseline-row fragments into text
// lines and converts each line to a TextElement with a bbox approximated
// from the fragments' positions and font size.
func linesFromFragments(fragments []textFragment, medianFontSize float64) []Element {
	sort.SliceStable(fragments, func(i, j int) bool {
		if fragments[i].page != fragments[j].page {
			return fragments[i].page < fragments[j].page
		}
		if roundTo(fragments[i].y, 2) != roundTo(fragments[j].y, 2) {
			return fragments[i].y > fragments[j].y
		}
		return fragments[i].x < fragments[j].x
	})

	var elements []Element
	var cur []textFragment

	flush := func() {
		if len(cur) == 0 {
			return
		}
		elements = append(elements, lineToElement(cur, medianFontSize))
		cur = nil
	}

	const sameLineTolerance = 2.0
	for _, f := range fragments {
		if len(cur) > 0 {
			last := cur[len(cur)-1]
			if f.page != last.page || roundTo(f.y, 0) < roundTo(last.y, 0)-sameLineTolerance || roundTo(f.y, 0) > roundTo(last.y, 0)+sameLineTolerance {
				flush()
			}
		}
		cur = append(cur, f)
	}
	flush()

	return elements
}

func lineToElement(frags []textFragment, medianFontSize float64) Element {
	var text string
	x0, y0, x1, y1 := frags[0].x, frags[0].y, frags[0].x, frags[0].y
	var fontSize float64
	for i, f := range frags {
		if i > 0 {
			text += " "
		}
		text += f.text
		if f.x < x0 {
			x0 = f.x
		}
		if f.x+f.w > x1 {
			x1 = f.x + f.w
		}
		if f.y < y0 {
			y0 = f.y
		}
		if f.y > y1 {
			y1 = f.y
		}
		if f.fontSize > fontSize {
			fontSize = f.fontSize
		}
	}
	y1 += fontSize

	bbox := Bbox{x0, y0, x1, y1}
	return Element{
		Kind: models.ElementText,
		Page: frags[0].page,
		Bbox: &bbox,
		Text: TextPayload{
			Content:  text,
			Role:     ClassifyRole(text, fontSize, medianFontSize),
			FontSize: fontSize,
		},
	}
}

func roundTo(v float64, decimals int) float64 {
	mult := 1.0
	for i := 0; i < decimals; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}
