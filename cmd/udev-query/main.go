package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/udev-query/internal/native"
	"github.com/ydb-platform/udev-query/internal/native/libudev"
	"github.com/ydb-platform/udev-query/internal/native/sysfs"
	"github.com/ydb-platform/udev-query/internal/udev"
)

func main() {
	appContext, appCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer appCancel()
	defer klog.Flush()

	if err := newRootCommand().ExecuteContext(appContext); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	backend string
	sysPath string
	root    string
	config  ConfigFlag
}

// load reads the config source, if any, and lets explicit flags win.
func (g *globalFlags) load(stdin io.Reader) (*Config, error) {
	config := &Config{}
	if src, ok := g.config.configSource.(*stdinConfigSource); ok && src.in == nil {
		src.in = stdin
	}
	if g.config.configSource != nil {
		reader, closer, err := g.config.open()
		if err != nil {
			klog.Errorf("failed to open --config %q: %v", g.config.String(), err)
			return nil, err
		}
		defer closer()

		config, err = parseConfig(reader)
		if err != nil {
			klog.Errorf("failed to parse --config %q: %v", g.config.String(), err)
			return nil, err
		}
	}
	if g.backend != "" {
		config.Backend = g.backend
	}
	if g.sysPath != "" {
		config.SysPath = g.sysPath
	}
	if g.root != "" {
		config.Root = g.root
	}
	return config, config.validate()
}

func (c *Config) backend() native.Backend {
	var opts []sysfs.Option
	if c.Root != "" {
		opts = append(opts, sysfs.WithFs(afero.NewBasePathFs(afero.NewOsFs(), c.Root)))
	}
	if c.SysPath != "" {
		opts = append(opts, sysfs.WithSysPath(c.SysPath))
	}

	switch c.Backend {
	case BackendLibudev:
		return libudev.Open
	case BackendSysfs:
		return sysfs.Backend(opts...)
	}
	if len(opts) > 0 {
		return sysfs.Backend(opts...)
	}
	return udev.DefaultBackend
}

func (c *Config) context() (*udev.Context, error) {
	return udev.NewContext(udev.WithBackend(c.backend()))
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "udev-query",
		Short:        "Query the udev device registry",
		SilenceUsage: true,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	root.PersistentFlags().StringVar(&g.backend, "backend", "", fmt.Sprintf("registry backend: %s, %s or %s", BackendAuto, BackendLibudev, BackendSysfs))
	root.PersistentFlags().StringVar(&g.sysPath, "sys-path", "", "sysfs mount point (sysfs backend)")
	root.PersistentFlags().StringVar(&g.root, "root", "", "host directory to read sysfs and the udev database from (sysfs backend)")
	root.PersistentFlags().Var(&g.config, "config", `configuration source (in form "file:<path>", "env:<ENV_VARIABLE>" or "stdin")`)

	root.AddCommand(
		newListCommand(g),
		newInfoCommand(g),
		newExportCommand(g),
		newWatchCommand(g),
		newVersionCommand(),
	)
	return root
}
