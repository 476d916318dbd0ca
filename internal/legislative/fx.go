package legislative

import (
	"github.com/observalabs/mirador/internal/legislative/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("legislative",
	fx.Provide(repository.Provide),
)
