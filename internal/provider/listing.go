package provider

import (
	"context"

	"github.com/rolledback/cloudbridge/internal/apperror"
)

// ListAll returns every entry of a folder, following continuation cursors
// until the store reports no more pages. Entries are returned in page order.
// Each continuation uses the cursor of the page immediately before it.
func ListAll(ctx context.Context, store RemoteStore, path string) ([]Metadata, error) {
	page, err := store.ListFolder(ctx, path)
	if err != nil {
		return nil, err
	}

	entries := append([]Metadata(nil), page.Entries...)
	for pageNum := 2; page.HasMore; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if page.Cursor == "" {
			return nil, apperror.Newf(apperror.CodeStore, "page %d of %s reported more results without a cursor", pageNum-1, path)
		}

		page, err = store.ListFolderContinue(ctx, page.Cursor)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Entries...)
	}

	return entries, nil
}
