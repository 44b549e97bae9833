package sync

import (
	"github.com/smallbiznis/fiscalsync/internal/sync/repository"
	"github.com/smallbiznis/fiscalsync/internal/sync/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sync.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
