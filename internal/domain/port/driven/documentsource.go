package driven

import (
	"context"

	"github.com/ericfisherdev/docanalyst/internal/domain/model"
)

// DocumentSource resolves catalog entries into document contents.
type DocumentSource interface {
	// Fetch loads the document named by entry.Locator. destDir, when non-empty,
	// is where remotely fetched documents are saved.
	Fetch(ctx context.Context, entry model.CatalogEntry, destDir string) (model.Document, error)
}
