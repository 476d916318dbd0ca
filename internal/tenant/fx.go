package tenant

import (
	"github.com/observalabs/mirador/internal/tenant/repository"
	"github.com/observalabs/mirador/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
