package buildsys

import (
	"context"

	"github.com/rs/zerolog"
)

func log(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithLogger attaches the given logger to the context. The pipeline packages pick it up through zerolog.Ctx.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}
