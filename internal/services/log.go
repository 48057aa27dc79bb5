package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logger returns the request-scoped logger carried by ctx, or the global one.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
