package cache

import (
	"context"

	"github.com/emrgen/storysync/internal/model"
)

// IndexCache holds the last known metadata index per database.
type IndexCache interface {
	// GetIndex returns the cached index, nil on a miss.
	GetIndex(ctx context.Context, db string) (*model.MetadataIndex, error)
	// SetIndex stores the index for db.
	SetIndex(ctx context.Context, db string, index *model.MetadataIndex) error
	// DeleteIndex drops the cached index for db.
	DeleteIndex(ctx context.Context, db string) error
}
