package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/bridgewatch/bridgewatch/config/types"
	"github.com/bridgewatch/bridgewatch/discovery"
	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/reconcile"
	"github.com/bridgewatch/bridgewatch/registry"
)

const (
	// FlagCfg is the flag for the config file path.
	FlagCfg = "cfg"
	// FlagWindow is the flag overriding the historical window in hours.
	FlagWindow = "window"
	// FlagBridges is the flag restricting the run to a comma separated list
	// of bridge addresses.
	FlagBridges = "bridges"
	// FlagOutputFile is the flag for the output file.
	FlagOutputFile = "output"

	// EnvVarPrefix before each config key when set through the environment,
	// e.g. BRIDGEWATCH_LOG_LEVEL.
	EnvVarPrefix = "BRIDGEWATCH"
	ConfigType   = "toml"
)

// CacheConfig holds the local event cache tuning.
type CacheConfig struct {
	// DBPath of the sqlite cache file
	DBPath string `mapstructure:"DBPath"`
	// TTL after which cached entries expire. Zero means the built-in 24h
	TTL types.Duration `mapstructure:"TTL"`
}

// Config is the root configuration, loaded from TOML with environment
// variable overrides.
type Config struct {
	// Log level and outputs for all components
	Log log.Config
	// Networks is the directory of chains bridges are deployed on
	Networks []registry.Network
	// Bridges is the directory of deployed bridge contracts to watch
	Bridges []registry.BridgeDescriptor
	// Discovery tunes the event discovery pass
	Discovery discovery.Config
	// Cache tunes the local event cache
	Cache CacheConfig
	// Reconcile tunes claim/transfer validation strictness
	Reconcile reconcile.Config
}

// Registry builds the network/bridge directory from the loaded config.
func (c *Config) Registry() *registry.Registry {
	return registry.New(c.Networks, c.Bridges)
}

// Load reads the configuration from the file given on the command line,
// layered on top of the built-in defaults.
func Load(ctx *cli.Context) (*Config, error) {
	configFilePath := ctx.String(FlagCfg)
	fileContent := ""
	if configFilePath != "" {
		raw, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFilePath, err)
		}
		fileContent = string(raw)
	}
	return LoadFromString(fileContent)
}

// LoadFromString parses TOML configuration content layered on top of the
// built-in defaults, with BRIDGEWATCH_* environment overrides on top of
// both. Environment overrides only apply to keys the defaults or the file
// declare.
func LoadFromString(configData string) (*Config, error) {
	v := viper.New()
	v.SetConfigType(ConfigType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewBufferString(DefaultValues)); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := v.MergeConfig(bytes.NewBufferString(configData)); err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	decodeHooks := []viper.DecoderConfigOption{
		// this allows arrays to be decoded from env var separated by ",",
		// example: MY_VAR="value1,value2,value3"
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(), mapstructure.StringToSliceHookFunc(","))),
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg, decodeHooks...); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}
