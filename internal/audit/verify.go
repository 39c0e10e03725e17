package audit

import (
	"context"
	"errors"
	"fmt"
)

const verifyPageSize = 500

// Verify walks the whole chain stored in src and returns the number of entries
// checked. A broken chain yields a *ChainError.
func Verify(ctx context.Context, src ChainSource) (int, error) {
	var (
		after   uint64
		prev    = GenesisHash
		checked int
	)

	for {
		page, err := src.List(ctx, after, verifyPageSize)
		if err != nil {
			return checked, fmt.Errorf("list audit entries: %w", err)
		}
		if len(page) == 0 {
			return checked, nil
		}

		if page[0].Seq != after+1 {
			return checked, &ChainError{Seq: page[0].Seq, Reason: fmt.Sprintf("expected seq %d", after+1)}
		}

		prev, err = VerifyChain(page, prev)
		if err != nil {
			var chainErr *ChainError
			if errors.As(err, &chainErr) {
				checked += int(chainErr.Seq - page[0].Seq)
			}
			return checked, err
		}

		checked += len(page)
		after = page[len(page)-1].Seq

		if len(page) < verifyPageSize {
			return checked, nil
		}
	}
}
