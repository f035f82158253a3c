// Package partition is the Partition Step (C6, §4.6): a hybrid native/OCR PDF
// extractor producing a typed sequence of elements plus a document-type
// classification consumed by the metadata step.
package partition

import "github.com/jepras/constructionrag/internal/models"

// Bbox is a PDF-points rectangle [x0, y0, x1, y1].
type Bbox [4]float64

// Element is the common shape every partition output carries regardless of
// its variant payload. Page is 1-indexed.
type Element struct {
	Kind  models.ElementKind
	Page  int
	Bbox  *Bbox
	Text  TextPayload
	Table TablePayload
	Image ImagePayload
}

// TextPayload is populated when Kind == ElementText.
type TextPayload struct {
	Content  string
	Role     models.TextRole
	FontSize float64
}

// TablePayload is populated when Kind == ElementTable.
type TablePayload struct {
	Rows       [][]string
	Confidence float64
	Caption    string
}

// ImagePayload is populated when Kind == ElementImage or ElementFullPage.
// StorageRef is empty until the element has been uploaded to the object
// store by the caller; partition itself only renders bytes.
type ImagePayload struct {
	PNG        []byte
	StorageRef string
	Caption    string
	DPI        int
}

// Result is the complete output of partitioning one document.
type Result struct {
	DocumentType models.DocumentType
	Elements     []Element
	PageCount    int
}
