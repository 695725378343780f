package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/sttts/kconsole/internal/metrics"
	"github.com/sttts/kconsole/internal/session"
	"github.com/sttts/kconsole/internal/views"
	"github.com/sttts/kconsole/internal/watchcache"
	"github.com/sttts/kconsole/pkg/kubeconfig"
	"github.com/sttts/kconsole/pkg/resources"
)

var watchTargets = []string{"pods", "services", "deployments", "replicasets"}

func newWatchCommand(o *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "watch <" + strings.Join(watchTargets, "|") + ">",
		Short:     "Print a live view of a namespace on every change",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: watchTargets,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Log, os.Stderr); err != nil {
				return err
			}
			log := ctrl.Log.WithName("watch")
			ctx := cmd.Context()

			target, err := kubeconfig.Load(cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Context, cfg.Kubernetes.Namespace)
			if err != nil {
				return err
			}
			kinds, err := cfg.WatchKinds()
			if err != nil {
				return err
			}

			reg := newRegistry()
			m, err := metrics.New(reg)
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}
			if cfg.Metrics.Address != "" {
				serveMetrics(ctx, log, cfg.Metrics.Address, reg, cfg.Metrics.ShutdownTimeout.Duration)
			}

			mgr, err := resources.NewManager(target.Config)
			if err != nil {
				return err
			}
			services, err := mgr.Services(kinds...)
			if err != nil {
				return err
			}
			sess, err := session.New(services, session.WithMetrics(m))
			if err != nil {
				return err
			}
			defer sess.Close()

			log.Info("Watching", "context", target.Context, "namespace", target.Namespace, "view", args[0])
			return runWatch(ctx, sess, target.Namespace, args[0], p)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or yaml")
	return cmd
}

// viewer is the part of a session the watch command uses.
type viewer interface {
	LiveCollection(ctx context.Context, namespace string, kind resources.Kind) (*watchcache.Observable[resources.List], error)
	Services(ctx context.Context, namespace string) (*watchcache.Observable[[]views.ServiceView], error)
	Deployments(ctx context.Context, namespace string) (*watchcache.Observable[[]views.DeploymentView], error)
	ReplicaSets(ctx context.Context, namespace string) (*watchcache.Observable[[]views.ReplicaSetView], error)
}

func runWatch(ctx context.Context, v viewer, namespace, what string, p *printer) error {
	switch what {
	case "pods":
		obs, err := v.LiveCollection(ctx, namespace, resources.KindPod)
		if err != nil {
			return err
		}
		return follow(ctx, obs, podRows, p)
	case "services":
		obs, err := v.Services(ctx, namespace)
		if err != nil {
			return err
		}
		return follow(ctx, obs, serviceRows, p)
	case "deployments":
		obs, err := v.Deployments(ctx, namespace)
		if err != nil {
			return err
		}
		return follow(ctx, obs, workloadRows, p)
	case "replicasets":
		obs, err := v.ReplicaSets(ctx, namespace)
		if err != nil {
			return err
		}
		return follow(ctx, obs, workloadRows, p)
	}
	return fmt.Errorf("unknown view %q, expected one of %s", what, strings.Join(watchTargets, ", "))
}

// follow prints every value of obs until ctx is done or obs ends.
func follow[T any](ctx context.Context, obs *watchcache.Observable[T], rows func(T) []row, p *printer) error {
	for v := range obs.Subscribe(ctx) {
		if err := p.print(rows(v)); err != nil {
			return err
		}
	}
	return nil
}

