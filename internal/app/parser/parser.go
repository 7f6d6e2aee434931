package parser

import (
	"github.com/kdimentionaltree/ton-index-worker/internal/app"
)

var _ app.ParserService = (*Service)(nil)

type Service struct {
	*app.ParserConfig
}

func NewService(cfg *app.ParserConfig) *Service {
	return &Service{ParserConfig: cfg}
}
