package certificate

import (
	"github.com/smallbiznis/fiscalsync/internal/certificate/repository"
	"github.com/smallbiznis/fiscalsync/internal/certificate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("certificate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
