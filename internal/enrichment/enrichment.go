// Package enrichment is the Enrichment Step (C8, §4.8): vision-language
// captioning of table and image elements, batched with rate-limit back-off.
package enrichment

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/partition"
)

const (
	batchSize         = 5
	perItemTimeout    = 60 * time.Second
	maxFailureRatio   = 0.5
	concurrentBatches = 3
	visionModel       = "vision-caption"
)

const captionPromptTemplate = "You are captioning a %s extracted from a construction document. Describe its technical content precisely (materials, dimensions, quantities, labels) in %s. Respond with the caption only."

// Run captions every table/image element in elements concurrently, in
// batches of up to 5, and returns a new slice with captions applied. Element
// order and count are preserved; only Table/Image payload captions change.
func Run(ctx context.Context, client *llmclient.Client, cc llmclient.CallContext, elements []partition.Element, language string) ([]partition.Element, error) {
	out := make([]partition.Element, len(elements))
	copy(out, elements)

	var targets []int
	for i, el := range out {
		if el.Kind == models.ElementTable || el.Kind == models.ElementImage || el.Kind == models.ElementFullPage {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return out, nil
	}

	batches := chunkIndices(targets, batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrentBatches)

	var failed, attempted int32

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			for _, idx := range batch {
				attempted++
				callCtx, cancel := context.WithTimeout(gctx, perItemTimeout)
				caption, err := captionElement(callCtx, client, cc, out[idx], language)
				cancel()
				if err != nil {
					failed++
					continue
				}
				applyCaption(&out[idx], caption)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if attempted > 0 && float64(failed)/float64(attempted) > maxFailureRatio {
		return nil, apperr.NewEnrichmentError(apperr.KindRateLimited,
			fmt.Sprintf("enrichment failure ratio %d/%d exceeds threshold", failed, attempted))
	}

	return out, nil
}

func captionElement(ctx context.Context, client *llmclient.Client, cc llmclient.CallContext, el partition.Element, language string) (string, error) {
	if el.Kind == models.ElementTable {
		prompt := fmt.Sprintf(captionPromptTemplate, "table", language) + "\n\n" + renderRows(el.Table.Rows)
		return client.Complete(ctx, cc, visionModel, prompt, 300, 0.2)
	}

	prompt := fmt.Sprintf(captionPromptTemplate, "figure", language)
	return client.VisionCaption(ctx, cc, visionModel, el.Image.StorageRef, prompt)
}

func renderRows(rows [][]string) string {
	var out string
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				out += " | "
			}
			out += cell
		}
		out += "\n"
	}
	return out
}

func applyCaption(el *partition.Element, caption string) {
	switch el.Kind {
	case models.ElementTable:
		el.Table.Caption = caption
	case models.ElementImage, models.ElementFullPage:
		el.Image.Caption = caption
	}
}

func chunkIndices(indices []int, size int) [][]int {
	var out [][]int
	for i := 0; i < len(indices); i += size {
		end := i + size
		if end > len(indices) {
			end = len(indices)
		}
		out = append(out, indices[i:end])
	}
	return out
}
