package main

import (
	"github.com/spf13/cobra"

	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/config"
)

var extendFile string

var extendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Extend the network from an extend.yaml document",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireFlag("file", extendFile); err != nil {
			return err
		}
		base, err := loadDeployment()
		if err != nil {
			return err
		}
		ext, err := config.LoadExtend(extendFile)
		if err != nil {
			return err
		}
		// Extended channels gain their organizations only once updated.
		merged, err := ext.Merge(base, true)
		if err != nil {
			return err
		}
		a, err := newApp(merged)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.deploy.ExtendFromFile(cmd.Context(), base, ext); err != nil {
			return err
		}
		final, err := ext.Merge(base, false)
		if err != nil {
			return err
		}
		if err := final.Save(cfg.Deployment, base.Version); err != nil {
			return err
		}
		logger.Infof("✅ deployment saved as version %s", final.Version)
		return a.deploy.WriteHostsFile(hostsFilePath())
	},
}

func init() {
	extendCmd.Flags().StringVarP(&extendFile, "file", "f", "", "extend document")
}
