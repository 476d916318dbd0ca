package connection

import (
	"github.com/observalabs/mirador/internal/connection/repository"
	"github.com/observalabs/mirador/internal/connection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("connection",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
