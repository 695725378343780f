package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/sttts/kconsole/pkg/appconfig"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options are the global flags. Set flags override the config file.
type options struct {
	configPath     string
	kubeconfig     string
	context        string
	namespace      string
	logLevel       string
	devLog         bool
	metricsAddress string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "kconsole",
		Short: "kconsole keeps live views of cluster workloads",
		Long: `kconsole lists and watches pods, services, deployments and replica sets
of a namespace and prints every change of the joined views.`,
		SilenceUsage: true,
	}

	o.addFlags(cmd.PersistentFlags())
	cmd.AddCommand(newWatchCommand(o), newContextsCommand(o), newConfigCommand(o), newVersionCommand())
	return cmd
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to the config file (default ~/.kconsole/config.yaml)")
	fs.StringVar(&o.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file")
	fs.StringVar(&o.context, "context", "", "Kubeconfig context to use")
	fs.StringVarP(&o.namespace, "namespace", "n", "", "Namespace to watch")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, error) or verbosity")
	fs.BoolVar(&o.devLog, "dev-log", false, "Use human readable development logging")
	fs.StringVar(&o.metricsAddress, "metrics-address", "", "Address to serve /metrics and /healthz on, e.g. :9090")
}

// load reads the config file and applies the flags that were set.
func (o *options) load(cmd *cobra.Command) (*appconfig.Config, error) {
	var (
		cfg *appconfig.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = appconfig.LoadFile(o.configPath)
	} else {
		cfg, err = appconfig.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	fs := cmd.Flags()
	if fs.Changed("kubeconfig") {
		cfg.Kubernetes.Kubeconfig = o.kubeconfig
	}
	if fs.Changed("context") {
		cfg.Kubernetes.Context = o.context
	}
	if fs.Changed("namespace") {
		cfg.Kubernetes.Namespace = o.namespace
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if fs.Changed("dev-log") {
		cfg.Log.Development = o.devLog
	}
	if fs.Changed("metrics-address") {
		cfg.Metrics.Address = o.metricsAddress
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kconsole version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", date)
		},
	}
}
