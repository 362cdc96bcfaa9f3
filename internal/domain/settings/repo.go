package settings

import "context"

// Repository persists global properties. Get returns (nil, nil) when the
// property does not exist.
type Repository interface {
	Get(ctx context.Context, property string) (*GlobalProperty, error)
	Set(ctx context.Context, gp *GlobalProperty) error
	Delete(ctx context.Context, property string) error
}
