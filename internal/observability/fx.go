package observability

import (
	"github.com/observalabs/mirador/internal/observability/logger"
	"github.com/observalabs/mirador/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		logger.New,
		metrics.New,
	),
)
