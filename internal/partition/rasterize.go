package partition

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
)

const (
	dpiSimple      = 150
	dpiComplexLow  = 200
	dpiComplexHigh = 300
)

// DPIForComplexity picks the raster DPI for a page per §4.6: simple pages
// render at 150, complex/image-dense pages at 200-300 scaled by imageRatio.
func DPIForComplexity(complexity models.PageComplexity, imageAreaRatio float64) int {
	if complexity != models.ComplexityComplex && complexity != models.ComplexityFragmented {
		return dpiSimple
	}
	span := dpiComplexHigh - dpiComplexLow
	return dpiComplexLow + int(float64(span)*clamp01(imageAreaRatio))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RenderPagePNG rasterizes page (0-indexed, per go-fitz convention) to PNG
// bytes at the given DPI, for FullPageElement production and OCR fallback
// input.
func RenderPagePNG(path string, page int, dpi int) ([]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, apperr.NewPartitionError(apperr.KindUnreadable, fmt.Sprintf("open %s for rasterization: %v", path, err))
	}
	defer doc.Close()

	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return nil, apperr.NewPartitionError(apperr.KindUnreadable, fmt.Sprintf("render page %d: %v", page, err))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode rendered page: %w", err)
	}
	return buf.Bytes(), nil
}

// PageCount opens the document just to report its page count, used by the
// orchestrator before partitioning to size per-document timeouts.
func PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, apperr.NewPartitionError(apperr.KindUnreadable, fmt.Sprintf("open %s: %v", path, err))
	}
	defer doc.Close()
	return doc.NumPage(), nil
}
