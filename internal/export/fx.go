package export

import (
	"github.com/smallbiznis/fiscalsync/internal/export/repository"
	"github.com/smallbiznis/fiscalsync/internal/export/service"
	"go.uber.org/fx"
)

var Module = fx.Module("export.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
