package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/vessel"
)

// EnvPrefix prefixes every environment override. Nested keys join with an
// underscore, so upstream.api_key is read from SHIPSTREAM_UPSTREAM_API_KEY.
const EnvPrefix = "SHIPSTREAM"

// Loader layers configuration: defaults, then an optional file, then
// environment variables, then bound command-line flags.
type Loader struct {
	v     *viper.Viper
	flags map[string]*pflag.Flag
}

// NewLoader creates a loader seeded with Default.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, flags: make(map[string]*pflag.Flag)}
}

// BindFlag overrides key with flag when the flag was set explicitly.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) {
	if flag != nil {
		l.flags[key] = flag
	}
}

// Load reads path (may be empty) on top of the defaults, applies overrides
// and validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}
	l.v.SetConfigType("yaml")
	if err := l.v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "read defaults")
	}

	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", "read config file")
		}
		l.v.SetConfigType(configType(path))
		if err := l.v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", "parse config file "+path)
		}
	}

	if err := checkEnvironment(); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "environment")
	}

	for key, flag := range l.flags {
		if err := l.v.BindPFlag(key, flag); err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "bind flag "+flag.Name)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is shorthand for NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

func configType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		boundingBoxesHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var boxesType = reflect.TypeOf([]vessel.BoundingBox(nil))

// boundingBoxesHook accepts bounding boxes as a JSON string, which is the
// only way to pass them through an environment variable.
func boundingBoxesHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != boxesType {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return []vessel.BoundingBox{}, nil
	}
	return vessel.ParseBoundingBoxes([]byte(s))
}

func checkEnvironment() error {
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix+"_") {
			continue
		}
		if err := validateEnvVar(key, value); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
	}
	return nil
}
