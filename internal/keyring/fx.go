package keyring

import (
	"github.com/smallbiznis/fiscalsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("keyring",
	fx.Provide(Provide),
)

// Provide requires CERT_MASTER_KEY in production and falls back to an
// ephemeral identity elsewhere.
func Provide(cfg config.Config, log *zap.Logger) (*Keyring, error) {
	if cfg.Certificate.MasterKey == "" && !cfg.IsProduction() {
		log.Warn("CERT_MASTER_KEY not set; using an ephemeral master key, uploaded certificates will not survive a restart")
		return Ephemeral()
	}
	kr, err := New(cfg.Certificate.MasterKey)
	if err != nil {
		return nil, err
	}
	log.Info("certificate keyring ready", zap.String("recipient", kr.Recipient()))
	return kr, nil
}
