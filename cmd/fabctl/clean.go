package main

import (
	"github.com/spf13/cobra"

	"github.com/ddr4869/fabctl/common/logger"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove containers, scripts, data and images from every host",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.deploy.CleanEnv(cmd.Context())
	},
}

var artifactsChannel string

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Local update artifacts",
}

var artifactsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the update artifacts and signature records of a channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireFlag("channel", artifactsChannel); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ch, err := a.registry.Channel(artifactsChannel)
		if err != nil {
			return err
		}
		if err := a.store.Clean(ch.ID); err != nil {
			return err
		}
		if err := a.ledger.DeleteSignatures(ch.ID); err != nil {
			return err
		}
		logger.Infof("✅ artifacts of channel<%s> removed", ch.ID)
		return nil
	},
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Write the domain.cfg hosts file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.deploy.WriteHostsFile(hostsFilePath())
	},
}

func init() {
	artifactsCleanCmd.Flags().StringVarP(&artifactsChannel, "channel", "c", "", "channel id")
	artifactsCmd.AddCommand(artifactsCleanCmd)
}
