package main

import (
	"github.com/spf13/cobra"

	"github.com/ddr4869/fabctl/common/logger"
)

var consortiumName string

var consortiumCmd = &cobra.Command{
	Use:   "consortium",
	Short: "System channel consortium operations",
}

var consortiumAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a consortium to the system channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireFlag("name", consortiumName); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.deploy.AddConsortium(cmd.Context(), consortiumName)
		if err != nil {
			return err
		}
		logger.Infof("✅ consortium %s added, signed envelope %s", consortiumName, res.SignedEnvelope)
		return nil
	},
}

func init() {
	consortiumAddCmd.Flags().StringVar(&consortiumName, "name", "", "consortium name")
	consortiumCmd.AddCommand(consortiumAddCmd)
}
