package partition

import (
	"context"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
)

// Partition runs the hybrid native/OCR strategy over a document on disk and
// returns its typed elements plus document-type classification (§4.6).
func Partition(ctx context.Context, client *llmclient.Client, cc llmclient.CallContext, path string) (*Result, error) {
	pageTextLengths, elements, pageCount, err := nativeExtract(path)
	if err != nil {
		return nil, err
	}

	docType := ClassifyDocumentType(pageTextLengths)
	if docType != models.DocScanned {
		return &Result{DocumentType: docType, Elements: elements, PageCount: pageCount}, nil
	}

	ocrLengths, ocrElements, err := ocrExtract(ctx, client, cc, path, pageCount)
	if err != nil {
		return nil, err
	}

	if ClassifyDocumentType(ocrLengths) == models.DocScanned {
		return nil, apperr.NewPartitionError(apperr.KindNoContent, "native and ocr extraction both yielded no usable content")
	}

	return &Result{DocumentType: models.DocScanned, Elements: ocrElements, PageCount: pageCount}, nil
}
