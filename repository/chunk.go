package repository

import (
	"context"
	"fmt"

	"github.com/danielyj147/osrd/errs"
)

// InsertFunc writes one chunk in a single statement and returns the stored
// records, in the order they were given.
type InsertFunc[R any] func(ctx context.Context, chunk []R) ([]R, error)

// ChunkSize returns how many records of fieldCount bound fields fit in one
// statement limited to maxParams parameters. At least one record is always
// allowed per statement.
func ChunkSize(fieldCount, maxParams int) (int, error) {
	if fieldCount <= 0 {
		return 0, errs.Config("field_count", fmt.Sprintf("must be positive, got %d", fieldCount))
	}
	size := maxParams / fieldCount
	if size < 1 {
		size = 1
	}
	return size, nil
}

// InsertChunked splits records into consecutive chunks of ChunkSize records,
// calls insert once per chunk and concatenates the results in input order.
// The first failing chunk aborts the batch; undoing earlier chunks is left to
// the enclosing transaction.
func InsertChunked[R any](ctx context.Context, records []R, fieldCount, maxParams int, insert InsertFunc[R]) ([]R, error) {
	size, err := ChunkSize(fieldCount, maxParams)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []R{}, nil
	}

	out := make([]R, 0, len(records))
	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(records))

		stored, err := insert(ctx, records[start:end:end])
		if err != nil {
			return nil, fmt.Errorf("insert chunk [%d:%d]: %w", start, end, err)
		}
		if len(stored) != end-start {
			return nil, errs.Corruption(nil,
				fmt.Sprintf("insert returned %d rows for a chunk of %d", len(stored), end-start))
		}
		out = append(out, stored...)
	}
	return out, nil
}
