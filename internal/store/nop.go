package store

import (
	"context"

	"github.com/amishk599/recruitwatch/internal/model"
)

// NopCursor is a cursor reader for dry runs. It never reports a stored
// posting, so adapters walk their whole listing.
type NopCursor struct{}

var _ model.CursorReader = NopCursor{}

func NewNopCursor() NopCursor { return NopCursor{} }

func (NopCursor) LatestBySource(context.Context, string) (model.Posting, bool, error) {
	return model.Posting{}, false, nil
}
