package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ydb-platform/udev-query/internal/discovery"
	"github.com/ydb-platform/udev-query/internal/native/sysfs"
)

type configSource interface {
	String() string
	open() (io.Reader, func() error, error)
}

type fileConfigSource struct {
	path string
}

func (fcs *fileConfigSource) open() (io.Reader, func() error, error) {
	file, err := os.Open(fcs.path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}

func (fcs *fileConfigSource) String() string {
	return "file:" + fcs.path
}

type envConfigSource struct {
	variable string
}

func (ecs *envConfigSource) open() (io.Reader, func() error, error) {
	data := os.Getenv(ecs.variable)
	if data == "" {
		return nil, nil, fmt.Errorf("config: environment variable %s is not set", ecs.variable)
	}
	return strings.NewReader(data), func() error { return nil }, nil
}

func (ecs *envConfigSource) String() string {
	return "env:" + ecs.variable
}

type stdinConfigSource struct {
	in io.Reader
}

func (scs *stdinConfigSource) open() (io.Reader, func() error, error) {
	if scs.in != nil {
		return scs.in, func() error { return nil }, nil
	}
	return os.Stdin, func() error { return nil }, nil
}

func (scs *stdinConfigSource) String() string {
	return "stdin"
}

// ConfigFlag is a pflag.Value selecting where the yaml config is read from.
type ConfigFlag struct {
	configSource
}

func (cf *ConfigFlag) Set(value string) error {
	if strings.HasPrefix(value, "file:") {
		cf.configSource = &fileConfigSource{path: strings.TrimPrefix(value, "file:")}
	} else if strings.HasPrefix(value, "env:") {
		cf.configSource = &envConfigSource{variable: strings.TrimPrefix(value, "env:")}
	} else if strings.HasPrefix(value, "stdin") {
		cf.configSource = &stdinConfigSource{}
	} else {
		return fmt.Errorf("invalid config source: %s", value)
	}

	return nil
}

func (cf *ConfigFlag) String() string {
	if cf.configSource == nil {
		return ""
	}
	return cf.configSource.String()
}

func (cf *ConfigFlag) Type() string {
	return "source"
}

const (
	BackendAuto    = "auto"
	BackendLibudev = "libudev"
	BackendSysfs   = "sysfs"
)

type FilterConfig struct {
	Subsystems  []string       `yaml:"subsystems,omitempty"`
	SysNames    []string       `yaml:"sysNames,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Parents     []string       `yaml:"parents,omitempty"`     // sys paths
	Properties  map[string]any `yaml:"properties,omitempty"`  // values may be strings, numbers or booleans
	Attributes  map[string]any `yaml:"attributes,omitempty"`  // same as properties
	Initialized bool           `yaml:"initialized,omitempty"` // drop devices udev has not processed yet
}

func validPattern(field string, patterns []string) error {
	var errs error
	for i, p := range patterns {
		if p == "" {
			errs = errors.Join(errs, fmt.Errorf("%s[%d]: must not be empty", field, i))
			continue
		}
		if err := sysfs.ValidPattern(p); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s[%d]: %q must be a valid glob: %w", field, i, p, err))
		}
	}
	return errs
}

func validValues(field string, values map[string]any) error {
	var errs error
	for key, value := range values {
		if key == "" {
			errs = errors.Join(errs, fmt.Errorf("%s: keys must not be empty", field))
		}
		if value == nil {
			errs = errors.Join(errs, fmt.Errorf("%s.%s: must have a value", field, key))
		}
	}
	return errs
}

func (fc *FilterConfig) validate(prefix string) error {
	var errs error
	errs = errors.Join(errs, validPattern(prefix+".subsystems", fc.Subsystems))
	errs = errors.Join(errs, validPattern(prefix+".sysNames", fc.SysNames))
	errs = errors.Join(errs, validPattern(prefix+".tags", fc.Tags))
	for i, p := range fc.Parents {
		if !path.IsAbs(p) {
			errs = errors.Join(errs, fmt.Errorf("%s.parents[%d]: %q must be an absolute sys path", prefix, i, p))
		}
	}
	errs = errors.Join(errs, validValues(prefix+".properties", fc.Properties))
	errs = errors.Join(errs, validValues(prefix+".attributes", fc.Attributes))
	return errs
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce,omitempty"`
	Resync   time.Duration `yaml:"resync,omitempty"` // negative disables resyncs
	Dir      string        `yaml:"dir,omitempty"` // host path of the udev database directory
}

func (wc *WatchConfig) validate(prefix string) error {
	var errs error
	if wc.Debounce < 0 {
		errs = errors.Join(errs, fmt.Errorf("%s.debounce: %s must not be negative", prefix, wc.Debounce))
	}
	return errs
}

func (wc *WatchConfig) options() []discovery.Option {
	var opts []discovery.Option
	if wc.Debounce > 0 {
		opts = append(opts, discovery.Debounce(wc.Debounce))
	}
	switch {
	case wc.Resync < 0:
		opts = append(opts, discovery.Resync(0))
	case wc.Resync > 0:
		opts = append(opts, discovery.Resync(wc.Resync))
	}
	if wc.Dir != "" {
		opts = append(opts, discovery.WatchDir(wc.Dir))
	}
	return opts
}

type Config struct {
	Backend string       `yaml:"backend,omitempty"`
	SysPath string       `yaml:"sysPath,omitempty"`
	Root    string       `yaml:"root,omitempty"`
	Filters FilterConfig `yaml:"filters,omitempty"`
	Watch   WatchConfig  `yaml:"watch,omitempty"`
}

func (c *Config) validate() error {
	var errs error
	switch c.Backend {
	case "", BackendAuto, BackendLibudev, BackendSysfs:
	default:
		errs = errors.Join(errs, fmt.Errorf(".backend: %q must be one of %s, %s or %s", c.Backend, BackendAuto, BackendLibudev, BackendSysfs))
	}
	if c.Backend == BackendLibudev && c.Root != "" {
		errs = errors.Join(errs, fmt.Errorf(".root: not supported by the %s backend", BackendLibudev))
	}
	if c.Backend == BackendLibudev && c.SysPath != "" {
		errs = errors.Join(errs, fmt.Errorf(".sysPath: not supported by the %s backend, set SYSFS_PATH instead", BackendLibudev))
	}
	errs = errors.Join(errs, c.Filters.validate(".filters"))
	errs = errors.Join(errs, c.Watch.validate(".watch"))
	return errs
}

func parseConfig(reader io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	config := &Config{}
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}
