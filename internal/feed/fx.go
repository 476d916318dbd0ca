package feed

import (
	"github.com/observalabs/mirador/internal/feed/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feed",
	fx.Provide(service.New),
)
