package api

import (
	"context"
	"io"
	"time"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

type wikiRunGetter interface {
	GetByID(ctx context.Context, id string) (*models.WikiRun, error)
}

type wikiPageLister interface {
	ListByWikiRun(ctx context.Context, wikiRunID string) ([]*models.WikiPageMetadata, error)
}

type signedObjectGetter interface {
	Get(ctx context.Context, rc reqcontext.RequestContext, path string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, rc reqcontext.RequestContext, path string, ttl time.Duration) (string, error)
}

const wikiPageURLTTL = 15 * time.Minute

// WikiArtifacts implements WikiService by reading generated page metadata
// and Markdown content out of the wiki run store and object store (§6.3).
type WikiArtifacts struct {
	WikiRuns wikiRunGetter
	Pages    wikiPageLister
	Objects  signedObjectGetter
}

func (w *WikiArtifacts) ListPages(ctx context.Context, rc reqcontext.RequestContext, wikiRunID string) ([]WikiPageSummary, error) {
	pages, err := w.Pages.ListByWikiRun(ctx, wikiRunID)
	if err != nil {
		return nil, err
	}

	out := make([]WikiPageSummary, len(pages))
	for i, p := range pages {
		url, err := w.Objects.SignedURL(ctx, rc, p.StoragePath, wikiPageURLTTL)
		if err != nil {
			return nil, err
		}
		out[i] = WikiPageSummary{
			Filename:   p.Filename,
			Title:      p.Title,
			Order:      p.Order,
			Size:       p.WordCount,
			StorageURL: url,
		}
	}
	return out, nil
}

func (w *WikiArtifacts) GetPage(ctx context.Context, rc reqcontext.RequestContext, wikiRunID, name string) (*WikiPageContent, error) {
	pages, err := w.Pages.ListByWikiRun(ctx, wikiRunID)
	if err != nil {
		return nil, err
	}

	var page *models.WikiPageMetadata
	for _, p := range pages {
		if p.Filename == name || p.Filename == name+".md" {
			page = p
			break
		}
	}
	if page == nil {
		return nil, apperr.NewNotFound("wiki page", name)
	}

	reader, err := w.Objects.Get(ctx, rc, page.StoragePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperr.Wrap("wiki.page_read_failed", apperr.CategoryStorage, "failed to read wiki page content", err)
	}

	return &WikiPageContent{
		Name:     page.Filename,
		Title:    page.Title,
		Content:  string(content),
		Metadata: *page,
	}, nil
}

func (w *WikiArtifacts) GetMetadata(ctx context.Context, rc reqcontext.RequestContext, wikiRunID string) (*models.WikiRun, error) {
	return w.WikiRuns.GetByID(ctx, wikiRunID)
}
