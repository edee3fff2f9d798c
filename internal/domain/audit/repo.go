package audit

import (
	"context"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Entry, int, error)
}
