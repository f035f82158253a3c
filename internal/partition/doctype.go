package partition

import "github.com/jepras/constructionrag/internal/models"

const (
	scannedMeanCharThreshold = 25
	sampleMaxPages           = 3
)

// ClassifyDocumentType applies §4.6's detection algorithm: sample up to the
// first 3 pages, compare mean extracted text length per page against the
// scanned threshold.
func ClassifyDocumentType(pageTextLengths []int) models.DocumentType {
	n := len(pageTextLengths)
	if n > sampleMaxPages {
		n = sampleMaxPages
	}
	if n == 0 {
		return models.DocScanned
	}

	total := 0
	for _, l := range pageTextLengths[:n] {
		total += l
	}
	mean := float64(total) / float64(n)

	if mean < scannedMeanCharThreshold {
		return models.DocScanned
	}
	return models.DocNative
}
