package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sttts/kconsole/pkg/appconfig"
)

func newConfigCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the kconsole configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(o))
	return cmd
}

func newConfigInitCommand(o *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the configuration file with the set flags applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.configPath
			if path == "" {
				p, err := appconfig.Path()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", path)
			}

			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			if o.configPath == "" {
				err = appconfig.Save(cfg)
			} else {
				err = appconfig.SaveFile(path, cfg)
			}
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
