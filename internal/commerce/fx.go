package commerce

import (
	"github.com/observalabs/mirador/internal/commerce/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("commerce",
	fx.Provide(repository.Provide),
)
