package cache

import (
	"context"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
)

// ErrBundleNotFound is wrapped by Load when no bundle exists for a bvid.
var ErrBundleNotFound = errors.New("bundle not found")

// BundleStore persists one bundle per bvid. Save overwrites unconditionally;
// callers guarantee a bvid is written by at most one goroutine per run.
type BundleStore interface {
	Exists(ctx context.Context, bvid string) (bool, error)
	Load(ctx context.Context, bvid string) (*domain.VideoDanmakuBundle, error)
	Save(ctx context.Context, bundle *domain.VideoDanmakuBundle) error
	LoadAll(ctx context.Context) ([]*domain.VideoDanmakuBundle, error)
}

// normalized returns b with a non-nil comment slice so empty bundles
// serialize as [] rather than null.
func normalized(b *domain.VideoDanmakuBundle) *domain.VideoDanmakuBundle {
	if b.Danmaku != nil {
		return b
	}
	c := *b
	c.Danmaku = []domain.DanmakuRecord{}
	return &c
}
