package fetcher

import (
	"sync"

	"github.com/kdimentionaltree/ton-index-worker/internal/app"
)

var _ app.BlockReader = (*Service)(nil)

// Service materializes masterchain heights through liteservers.
type Service struct {
	*app.FetcherConfig

	masterWorkchain int32
	masterShard     int64

	configOnce sync.Once
	configBOC  []byte
}

func NewService(cfg *app.FetcherConfig) *Service {
	return &Service{
		FetcherConfig:   cfg,
		masterWorkchain: -1,
		masterShard:     -0x8000000000000000,
	}
}
