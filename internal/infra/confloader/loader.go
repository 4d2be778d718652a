package confloader

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "SEGMESH_"

// Loader merges a configuration file and the environment into a struct.
type Loader struct {
	k          *koanf.Koanf
	envPrefix  string
	envAliases map[string]string
	filePath   string
	strict     bool
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithEnvAliases maps transformed environment keys to configuration keys
// that cannot be spelled as variable names, such as hyphenated keys:
// "cseg.max.leaf.population" -> "cseg-max-leaf-population".
func WithEnvAliases(aliases map[string]string) Option {
	return func(l *Loader) {
		l.envAliases = aliases
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithStrict makes Load fail on file keys the target has no field for.
// Environment variables are never checked, since unrelated programs may
// share the prefix.
func WithStrict(strict bool) Option {
	return func(l *Loader) {
		l.strict = strict
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the file, if any, then the environment, and decodes the
// result over target. Fields no source mentions keep their values.
func (l *Loader) Load(target any) error {
	if err := l.LoadFile(l.filePath); err != nil {
		return err
	}
	if l.strict {
		if err := l.decode(target, true); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	if err := l.Unmarshal(target); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// LoadFile merges a YAML file. An empty path is a no-op.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges variables carrying the prefix. Empty variables are
// ignored.
func (l *Loader) LoadEnv() error {
	provider := env.ProviderWithValue(l.envPrefix, ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return l.envKey(key), value
	})
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// envKey maps SEGMESH_SERVER_HTTP_ADDR to server.http.addr.
func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	parts := strings.Split(s, "__")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "_", ".")
	}
	s = strings.Join(parts, "_")
	if alias, ok := l.envAliases[s]; ok {
		return alias
	}
	return s
}

// Unmarshal decodes everything loaded so far over target.
func (l *Loader) Unmarshal(target any) error {
	return l.decode(target, false)
}

func (l *Loader) decode(target any, errorUnused bool) error {
	return l.k.UnmarshalWithConf("", target, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           target,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ErrorUnused:      errorUnused,
		},
	})
}

// Keys returns the keys loaded so far, sorted.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}
