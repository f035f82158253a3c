package partition

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
)

// ocrPrompt asks for a literal transcription tuned for Danish construction
// documents, per §4.6's "OCR-backed extractor configured with the Danish
// language model".
const ocrPrompt = "Transcribe every word of text visible in this construction document page, in reading order, in its original language (Danish by default). Return plain text only, no commentary."

const ocrModel = "vision-ocr"

// ocrExtract runs the OCR strategy: the pack carries no dedicated OCR
// library, so each page is rasterized and transcribed through the
// vision-capable LLM client, normalized into the same Element schema the
// native strategy produces. OCR output carries no structured bbox.
func ocrExtract(ctx context.Context, client *llmclient.Client, cc llmclient.CallContext, path string, pageCount int) ([]int, []Element, error) {
	pageTextLengths := make([]int, 0, pageCount)
	var elements []Element

	for page := 0; page < pageCount; page++ {
		png, err := RenderPagePNG(path, page, dpiSimple)
		if err != nil {
			return nil, nil, err
		}

		caption, err := client.VisionCaption(ctx, cc, ocrModel, dataURI(png), ocrPrompt)
		if err != nil {
			return nil, nil, apperr.Wrap("partition.ocr_failed", apperr.CategoryPartition, fmt.Sprintf("ocr page %d", page+1), err)
		}

		pageTextLengths = append(pageTextLengths, len(caption))
		if caption == "" {
			continue
		}
		elements = append(elements, Element{
			Kind: models.ElementText,
			Page: page + 1,
			Text: TextPayload{Content: caption, Role: models.RoleNarrativeText},
		})
	}

	return pageTextLengths, elements, nil
}

func dataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
