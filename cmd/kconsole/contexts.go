package main

import (
	"github.com/spf13/cobra"

	"github.com/sttts/kconsole/pkg/kubeconfig"
)

func newContextsCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "contexts",
		Short: "List the kubeconfig contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			contexts, err := kubeconfig.Contexts(cfg.Kubernetes.Kubeconfig)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(contexts))
			for _, c := range contexts {
				current := ""
				if c.Current {
					current = "*"
				}
				rows = append(rows, []string{current, c.Name, c.Cluster, c.User, dash(c.Namespace)})
			}
			return renderTable(cmd.OutOrStdout(), []string{"CURRENT", "NAME", "CLUSTER", "USER", "NAMESPACE"}, rows)
		},
	}
}
