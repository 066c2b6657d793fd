package core

import (
	"context"
	"fmt"
	"maps"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

const (
	DefaultEnvPrefix    = "ORACLE_"
	DefaultEnvSeparator = "__"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed map, mostly for tests and embedding
// hosts that already parsed their configuration.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l.Values == nil {
		return map[string]any{}, nil
	}
	return maps.Clone(l.Values), nil
}

// EnvRawConfigLoader reads ORACLE_SECTION__FIELD style variables into a
// nested map shaped like Config. Values are coerced to the target field type.
type EnvRawConfigLoader struct {
	Prefix    string
	Separator string
	Environ   func() []string
}

func NewEnvRawConfigLoader() *EnvRawConfigLoader {
	return &EnvRawConfigLoader{Prefix: DefaultEnvPrefix, Separator: DefaultEnvSeparator}
}

func (l *EnvRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := DefaultEnvPrefix
	separator := DefaultEnvSeparator
	environ := os.Environ
	if l != nil {
		if strings.TrimSpace(l.Prefix) != "" {
			prefix = l.Prefix
		}
		if l.Separator != "" {
			separator = l.Separator
		}
		if l.Environ != nil {
			environ = l.Environ
		}
	}

	out := map[string]any{}
	configType := reflect.TypeOf(Config{})
	for _, entry := range environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, prefix)), separator)
		coerced, err := coerceEnvValue(configType, path, value)
		if err != nil {
			return nil, fmt.Errorf("core: env %s: %w", key, err)
		}
		if coerced == nil {
			continue
		}
		setNested(out, path, coerced)
	}
	return out, nil
}

func coerceEnvValue(target reflect.Type, path []string, raw string) (any, error) {
	current := target
	for index, segment := range path {
		switch current.Kind() {
		case reflect.Struct:
			field, ok := fieldByTag(current, segment)
			if !ok {
				return nil, nil
			}
			current = field.Type
		case reflect.Map:
			if index != len(path)-1 {
				return nil, nil
			}
			current = current.Elem()
		default:
			return nil, nil
		}
	}
	return coerceScalar(current, raw)
}

func coerceScalar(target reflect.Type, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if target == reflect.TypeOf(time.Duration(0)) {
		return time.ParseDuration(raw)
	}
	switch target.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Bool:
		return strconv.ParseBool(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(value).Convert(target).Interface(), nil
	case reflect.Slice:
		parts := strings.Split(raw, ",")
		out := reflect.MakeSlice(target, 0, len(parts))
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			item, err := coerceScalar(target.Elem(), part)
			if err != nil {
				return nil, err
			}
			out = reflect.Append(out, reflect.ValueOf(item))
		}
		return out.Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported field kind %s", target.Kind())
	}
}

func fieldByTag(structType reflect.Type, tag string) (reflect.StructField, bool) {
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.Tag.Get("koanf") == tag {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

func setNested(out map[string]any, path []string, value any) {
	current := out
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

// CfgxConfigProvider builds a Config from raw values over the defaults.
type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil || p.Loader == nil {
		return buildConfig(map[string]any{}, defaults)
	}
	raw, err := p.Loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return buildConfig(raw, defaults)
}

func buildConfig(raw map[string]any, defaults Config) (Config, error) {
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// GoOptionsResolver stacks defaults, loaded configuration and runtime
// overrides as go-options layers, later layers winning per key.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	snapshot := opts.WithSnapshotID[map[string]any]
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), configToLayerMap(defaults, true), snapshot("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), configToLayerMap(loaded, false), snapshot("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), configToLayerMap(runtime, false), snapshot("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build options stack: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: merge options: %w", err)
	}
	return buildConfig(merged.Value, defaults)
}

// ResolveConfig runs defaults through the provider and resolver.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

// configToLayerMap converts cfg into a koanf-keyed map. Zero values are
// dropped unless includeZero is set so higher layers only override what they set.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer, _ := structToLayer(reflect.ValueOf(cfg), includeZero).(map[string]any)
	if layer == nil {
		return map[string]any{}
	}
	return layer
}

func structToLayer(value reflect.Value, includeZero bool) any {
	if value.Kind() != reflect.Struct {
		return value.Interface()
	}
	layer := map[string]any{}
	for i := 0; i < value.NumField(); i++ {
		field := value.Type().Field(i)
		tag := field.Tag.Get("koanf")
		if tag == "" || !field.IsExported() {
			continue
		}
		fieldValue := value.Field(i)
		switch fieldValue.Kind() {
		case reflect.Struct:
			nested, _ := structToLayer(fieldValue, includeZero).(map[string]any)
			if includeZero || len(nested) > 0 {
				layer[tag] = nested
			}
		case reflect.Map, reflect.Slice:
			if !includeZero && fieldValue.Len() == 0 {
				continue
			}
			layer[tag] = fieldValue.Interface()
		default:
			if !includeZero && fieldValue.IsZero() {
				continue
			}
			layer[tag] = fieldValue.Interface()
		}
	}
	return layer
}
