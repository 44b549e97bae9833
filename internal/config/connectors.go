package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	ConnectorDriverSefaz   = "sefaz"
	ConnectorDriverSandbox = "sandbox"

	ConnectorEnvProduction   = "production"
	ConnectorEnvHomologation = "homologation"
)

// ConnectorConfig configures the connector serving one document category.
type ConnectorConfig struct {
	Driver      string        `mapstructure:"driver"`
	Environment string        `mapstructure:"environment"`
	Endpoint    string        `mapstructure:"endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxPages    int           `mapstructure:"maxPages"`
	Enabled     bool          `mapstructure:"enabled"`
}

type ConnectorsConfig struct {
	Categories map[string]ConnectorConfig `mapstructure:"categories"`
}

func DefaultConnectorsConfig() ConnectorsConfig {
	categories := map[string]ConnectorConfig{}
	for _, category := range []string{"NFE", "NFCE", "CTE", "MDFE", "NFSE"} {
		categories[category] = ConnectorConfig{
			Driver:      ConnectorDriverSandbox,
			Environment: ConnectorEnvHomologation,
			Timeout:     time.Minute,
			MaxPages:    10,
			Enabled:     true,
		}
	}
	return ConnectorsConfig{Categories: categories}
}

// Category returns the configuration for a category; viper lowercases map
// keys so lookups are case-insensitive.
func (c ConnectorsConfig) Category(category string) (ConnectorConfig, bool) {
	for key, value := range c.Categories {
		if strings.EqualFold(key, category) {
			return value.withDefaults(), true
		}
	}
	return ConnectorConfig{}, false
}

// EnabledCategories lists enabled category names in upper case.
func (c ConnectorsConfig) EnabledCategories() []string {
	out := make([]string, 0, len(c.Categories))
	for key, value := range c.Categories {
		if value.Enabled {
			out = append(out, strings.ToUpper(key))
		}
	}
	return out
}

func (c ConnectorConfig) withDefaults() ConnectorConfig {
	if c.Driver == "" {
		c.Driver = ConnectorDriverSandbox
	}
	if c.Environment == "" {
		c.Environment = ConnectorEnvHomologation
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
	return c
}

type ConnectorConfigHolder struct {
	current atomic.Value // holds ConnectorsConfig
}

// NewConnectorConfigHolder reads connectors.yml and keeps it hot reloaded.
func NewConnectorConfigHolder(log *zap.Logger) (*ConnectorConfigHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(os.Getenv("FISCALSYNC_CONNECTORS_FILE")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("connectors")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/fiscalsync")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FISCALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return newConnectorConfigHolder(v, log, true)
}

func newConnectorConfigHolder(v *viper.Viper, log *zap.Logger, watch bool) (*ConnectorConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("connector.config")

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
		fileFound = false
		log.Info("connectors config not found, using sandbox defaults")
	}

	cfg := DefaultConnectorsConfig()
	if fileFound {
		loaded, err := decodeConnectorsConfig(v)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	holder := &ConnectorConfigHolder{}
	holder.current.Store(cfg)

	if watch && fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeConnectorsConfig(v)
			if err != nil {
				log.Warn("connectors config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("connectors config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticConnectorConfigHolder wraps a fixed configuration.
func NewStaticConnectorConfigHolder(cfg ConnectorsConfig) *ConnectorConfigHolder {
	holder := &ConnectorConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ConnectorConfigHolder) Get() ConnectorsConfig {
	return h.current.Load().(ConnectorsConfig)
}

func decodeConnectorsConfig(v *viper.Viper) (ConnectorsConfig, error) {
	var cfg ConnectorsConfig
	if err := v.UnmarshalKey("connectors", &cfg); err != nil {
		return ConnectorsConfig{}, err
	}
	if err := validateConnectorsConfig(cfg); err != nil {
		return ConnectorsConfig{}, err
	}
	return cfg, nil
}

func validateConnectorsConfig(cfg ConnectorsConfig) error {
	if len(cfg.Categories) == 0 {
		return errors.New("connectors.categories cannot be empty")
	}
	for name, c := range cfg.Categories {
		switch c.Driver {
		case ConnectorDriverSefaz:
			if strings.TrimSpace(c.Endpoint) == "" {
				return fmt.Errorf("connectors.categories.%s.endpoint is required for the sefaz driver", name)
			}
		case ConnectorDriverSandbox, "":
		default:
			return fmt.Errorf("connectors.categories.%s.driver %q is not supported", name, c.Driver)
		}
		switch c.Environment {
		case ConnectorEnvProduction, ConnectorEnvHomologation, "":
		default:
			return fmt.Errorf("connectors.categories.%s.environment %q is not supported", name, c.Environment)
		}
	}
	return nil
}
