package sync

import (
	"context"
	"fmt"

	"github.com/mailwatch/mailwatch/internal/mailbox"
)

// DrainChanges drains the remote change feed recorded after startToken
// across all pages, returning message-added records in page order. Other
// change kinds (deletions, label moves) are dropped.
//
// Any page failure aborts the whole drain: partial pagination results are
// never returned, so the caller can retry the full pass from the same
// startToken.
func DrainChanges(ctx context.Context, api mailbox.API, startToken string) ([]mailbox.ChangeRecord, error) {
	var records []mailbox.ChangeRecord
	pageToken := ""

	for {
		page, err := api.ListChanges(ctx, startToken, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list changes from %s: %w", startToken, err)
		}

		for _, rec := range page.Records {
			if rec.Kind == mailbox.ChangeAdded {
				records = append(records, rec)
			}
		}

		if page.NextPageToken == "" {
			return records, nil
		}
		pageToken = page.NextPageToken
	}
}
