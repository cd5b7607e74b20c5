package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kennygrant/sanitize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/discovery"
	"github.com/ydb-platform/udev-query/internal/mux"
	"github.com/ydb-platform/udev-query/internal/udev"
)

const (
	FormatText = "text"
	FormatYAML = "yaml"
)

type filterFlags struct {
	subsystems  []string
	sysNames    []string
	tags        []string
	parents     []string
	properties  []string
	attributes  []string
	initialized bool
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.subsystems, "subsystem", nil, "match subsystem glob, repeated flags are ORed")
	cmd.Flags().StringArrayVar(&f.sysNames, "sysname", nil, "match sys name glob, repeated flags are ORed")
	cmd.Flags().StringArrayVar(&f.tags, "tag", nil, "match tag, repeated flags are ORed")
	cmd.Flags().StringArrayVar(&f.parents, "parent", nil, "match the device at this sys path and everything below it")
	cmd.Flags().StringArrayVar(&f.properties, "property", nil, "match KEY=VALUE property, repeated flags are ORed")
	cmd.Flags().StringArrayVar(&f.attributes, "attribute", nil, "match KEY=VALUE sysfs attribute, repeated flags are ORed")
	cmd.Flags().BoolVar(&f.initialized, "initialized", false, "drop devices udev has not processed yet")
}

func keyValues(flag string, pairs []string, into map[string]any) (map[string]any, error) {
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("--%s: %q must be in form KEY=VALUE", flag, pair)
		}
		if into == nil {
			into = make(map[string]any)
		}
		into[key] = value
	}
	return into, nil
}

// merge adds the flag filters to the ones from the config.
func (f *filterFlags) merge(config *Config) error {
	fc := &config.Filters
	fc.Subsystems = append(fc.Subsystems, f.subsystems...)
	fc.SysNames = append(fc.SysNames, f.sysNames...)
	fc.Tags = append(fc.Tags, f.tags...)
	fc.Parents = append(fc.Parents, f.parents...)
	fc.Initialized = fc.Initialized || f.initialized

	var err error
	if fc.Properties, err = keyValues("property", f.properties, fc.Properties); err != nil {
		return err
	}
	if fc.Attributes, err = keyValues("attribute", f.attributes, fc.Attributes); err != nil {
		return err
	}
	return config.validate()
}

// enumerator lists the devices selected by fc. The caller closes it.
func (fc *FilterConfig) enumerator(ctx *udev.Context) (*udev.Enumerator, error) {
	e, err := ctx.ListDevices(udev.Match{Properties: fc.Properties})
	if err != nil {
		return nil, err
	}
	for _, s := range fc.Subsystems {
		e.MatchSubsystem(s)
	}
	for _, s := range fc.SysNames {
		e.MatchSysName(s)
	}
	for _, t := range fc.Tags {
		e.MatchTag(t)
	}
	for _, p := range fc.Parents {
		parent, err := ctx.DeviceFromSysPath(p)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.MatchParent(parent)
	}
	for _, key := range slices.Sorted(maps.Keys(fc.Attributes)) {
		e.MatchAttribute(key, fc.Attributes[key])
	}
	if fc.Initialized {
		e.MatchIsInitialized()
	}
	if err := e.Err(); err != nil {
		e.Close()
		return nil, err
	}
	klog.V(4).Infof("enumerating with filters %v", e.Filters())
	return e, nil
}

type record struct {
	SysPath     string            `yaml:"syspath"`
	SysName     string            `yaml:"sysname"`
	Subsystem   string            `yaml:"subsystem,omitempty"`
	DevType     string            `yaml:"devtype,omitempty"`
	Driver      string            `yaml:"driver,omitempty"`
	DevNode     string            `yaml:"devnode,omitempty"`
	Parent      string            `yaml:"parent,omitempty"`
	Initialized bool              `yaml:"initialized"`
	NumaNode    int               `yaml:"numaNode"`
	DevLinks    []string          `yaml:"devlinks,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
	Properties  map[string]string `yaml:"properties,omitempty"`
	Attributes  map[string]string `yaml:"attributes,omitempty"`
}

func newRecord(dev *udev.Device, attributes bool) record {
	r := record{
		SysPath:     dev.SysPath(),
		SysName:     dev.SysName(),
		Subsystem:   dev.Subsystem(),
		DevType:     dev.DevType(),
		Driver:      dev.Driver(),
		DevNode:     dev.DevNode(),
		Initialized: dev.IsInitialized(),
		NumaNode:    dev.NumaNode(),
		DevLinks:    dev.DevLinks(),
		Tags:        dev.Tags(),
		Properties:  dev.Properties(),
	}
	if parent := dev.Parent(); parent != nil {
		r.Parent = parent.SysPath()
	}
	if attributes {
		r.Attributes = dev.Attributes()
	}
	return r
}

func writeYAML(out io.Writer, v any) error {
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func newListCommand(g *globalFlags) *cobra.Command {
	filters := &filterFlags{}
	var (
		format string
		long   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices matching the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != FormatText && format != FormatYAML {
				return fmt.Errorf("--format: %q must be %s or %s", format, FormatText, FormatYAML)
			}
			config, err := g.load(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := filters.merge(config); err != nil {
				return err
			}
			ctx, err := config.context()
			if err != nil {
				return err
			}
			defer ctx.Close()
			e, err := config.Filters.enumerator(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			var records []record
			for dev, err := range e.Devices() {
				if err != nil {
					return err
				}
				switch {
				case format == FormatYAML:
					records = append(records, newRecord(dev, long))
				case long:
					fmt.Fprintln(cmd.OutOrStdout(), dev.Debug())
				default:
					fmt.Fprintln(cmd.OutOrStdout(), dev.SysPath())
				}
			}
			if format == FormatYAML {
				return writeYAML(cmd.OutOrStdout(), records)
			}
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVar(&format, "format", FormatText, "output format: text or yaml")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "print every detail of each device")
	return cmd
}

func newInfoCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info SYSPATH",
		Short: "Show one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := g.load(cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx, err := config.context()
			if err != nil {
				return err
			}
			defer ctx.Close()
			dev, err := ctx.DeviceFromSysPath(args[0])
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), newRecord(dev, true))
		},
	}
}

// exportName is the file name a device is exported to.
func exportName(dev *udev.Device) string {
	return sanitize.BaseName(strings.ReplaceAll(strings.Trim(dev.DevPath(), "/"), "/", " ")) + ".yaml"
}

func newExportCommand(g *globalFlags) *cobra.Command {
	filters := &filterFlags{}
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one yaml file per matching device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := g.load(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := filters.merge(config); err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			ctx, err := config.context()
			if err != nil {
				return err
			}
			defer ctx.Close()
			e, err := config.Filters.enumerator(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			n := 0
			for dev, err := range e.Devices() {
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(newRecord(dev, true))
				if err != nil {
					return err
				}
				name := filepath.Join(dir, exportName(dev))
				if err := os.WriteFile(name, data, 0o644); err != nil {
					klog.Errorf("failed to export %s: %v", dev.SysPath(), err)
					return err
				}
				klog.V(4).Infof("exported %s to %s", dev.SysPath(), name)
				n++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d devices to %s\n", n, dir)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write the device files to")
	return cmd
}

func newWatchCommand(g *globalFlags) *cobra.Command {
	filters := &filterFlags{}
	var watch WatchConfig
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print devices as they appear and disappear",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := g.load(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if watch.Debounce != 0 {
				config.Watch.Debounce = watch.Debounce
			}
			if watch.Resync != 0 {
				config.Watch.Resync = watch.Resync
			}
			if watch.Dir != "" {
				config.Watch.Dir = watch.Dir
			}
			if err := filters.merge(config); err != nil {
				return err
			}
			ctx, err := config.context()
			if err != nil {
				return err
			}
			defer ctx.Close()
			e, err := config.Filters.enumerator(ctx)
			if err != nil {
				return err
			}

			opts := config.Watch.options()
			if config.Watch.Dir == "" && config.Root != "" {
				runPath, err := ctx.RunPath()
				if err != nil {
					e.Close()
					return err
				}
				opts = append(opts, discovery.WatchDir(filepath.Join(config.Root, runPath, "data")))
			}

			wg := &sync.WaitGroup{}
			d, err := discovery.New(ctx, e, wg, opts...)
			if err != nil {
				e.Close()
				return err
			}
			events := make(chan discovery.Event, 64)
			cancel := d.Subscribe(mux.SinkFromChan(events))
			defer mux.ChainCancelFunc(cancel, d.Close, wg.Wait)()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					switch ev := ev.(type) {
					case discovery.Init:
						fmt.Fprintf(out, "init %d\n", len(ev.Devices))
						for _, dev := range ev.Devices {
							fmt.Fprintf(out, "  %s\n", dev.SysPath())
						}
					case discovery.Added:
						fmt.Fprintf(out, "add %s\n", ev.SysPath())
					case discovery.Removed:
						fmt.Fprintf(out, "remove %s\n", ev.SysPath())
					}
				}
			}
		},
	}
	filters.register(cmd)
	cmd.Flags().DurationVar(&watch.Debounce, "debounce", 0, fmt.Sprintf("delay before rescanning after a database change (default %s)", discovery.DefaultDebounce))
	cmd.Flags().DurationVar(&watch.Resync, "resync", 0, fmt.Sprintf("interval of unconditional rescans, negative disables them (default %s)", discovery.DefaultResync))
	cmd.Flags().StringVar(&watch.Dir, "watch-dir", "", "udev database directory to watch")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the udev version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			version, err := udev.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for udevadm")
	return cmd
}
