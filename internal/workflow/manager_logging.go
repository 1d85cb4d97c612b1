package workflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"partforge/internal/logging"
	"partforge/internal/services"
)

func withStageContext(ctx context.Context, runID, stageName string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = services.WithRunID(ctx, runID)
	ctx = services.WithStage(ctx, stageName)
	return services.WithRequestID(ctx, uuid.NewString())
}

func (m *Manager) stageLogger(ctx context.Context) *slog.Logger {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	return logging.WithContext(ctx, base)
}
