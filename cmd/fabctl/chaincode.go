package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ddr4869/fabctl/deploy"
)

var ccReq deploy.ChaincodeRequest

// chaincodeCmd groups chaincode lifecycle operations
var chaincodeCmd = &cobra.Command{
	Use:   "chaincode",
	Short: "Chaincode install, instantiate and upgrade",
}

func chaincodeAction(run func(*deploy.Context, context.Context, deploy.ChaincodeRequest) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := requireFlag("channel", ccReq.ChannelID); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return run(a.deploy, cmd.Context(), ccReq)
	}
}

var chaincodeInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install chaincodes on the channel's peers",
	RunE:  chaincodeAction((*deploy.Context).InstallChaincode),
}

var chaincodeInstantiateCmd = &cobra.Command{
	Use:   "instantiate",
	Short: "Instantiate chaincodes on a channel",
	RunE:  chaincodeAction((*deploy.Context).InstantiateChaincode),
}

var chaincodeUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade chaincodes on a channel to their configured version",
	RunE:  chaincodeAction((*deploy.Context).UpgradeChaincode),
}

func init() {
	for _, c := range []*cobra.Command{chaincodeInstallCmd, chaincodeInstantiateCmd, chaincodeUpgradeCmd} {
		c.Flags().StringVarP(&ccReq.ChannelID, "channel", "c", "", "channel id")
		c.Flags().StringSliceVar(&ccReq.Names, "names", nil, "chaincodes to operate on (default all of the channel)")
		c.Flags().StringSliceVar(&ccReq.Orgs, "org", nil, "organizations whose peers are used (default all members)")
		c.Flags().StringSliceVar(&ccReq.Hosts, "hosts", nil, "hosts to use, requires a single --org")
	}
	for _, c := range []*cobra.Command{chaincodeInstantiateCmd, chaincodeUpgradeCmd} {
		c.Flags().StringSliceVar(&ccReq.Args, "args", nil, "Init arguments")
	}
	chaincodeCmd.AddCommand(chaincodeInstallCmd, chaincodeInstantiateCmd, chaincodeUpgradeCmd)
}
