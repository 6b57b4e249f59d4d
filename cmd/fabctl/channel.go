package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ddr4869/fabctl/common/logger"
)

var (
	channelID   string
	channelOrg  string
	channelOrgs []string
	joinHosts   []string
)

// channelCmd groups channel operations
var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Channel membership operations",
}

var channelExtendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Add an organization to a channel and join its peers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireFlag("channel", channelID); err != nil {
			return err
		}
		if err := requireFlag("org", channelOrg); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.deploy.ExtendChannel(cmd.Context(), channelID, channelOrg)
		if err != nil {
			return err
		}
		if len(res.Resumed) > 0 {
			logger.Infof("signatures kept from an earlier run: %s", strings.Join(res.Resumed, ", "))
		}
		logger.Infof("signed by %s, submitted to %s", strings.Join(res.Signers, ", "), res.Orderer)
		return nil
	},
}

var channelJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join peers to a channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireFlag("channel", channelID); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.deploy.JoinChannel(cmd.Context(), channelID, joinHosts, channelOrgs)
	},
}

var channelInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Create a channel from its creation transaction and join its members",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireFlag("channel", channelID); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.deploy.InstallChannel(cmd.Context(), channelID)
	},
}

var channelShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show channels, their members and pending signatures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		for _, ch := range a.registry.Channels() {
			fmt.Fprintf(out, "%s\tprofile=%s", ch.ID, ch.Profile)
			if ch.Consortium != "" {
				fmt.Fprintf(out, "\tconsortium=%s", ch.Consortium)
			}
			if len(ch.Members) > 0 {
				fmt.Fprintf(out, "\tmembers=%s", strings.Join(ch.Members, ","))
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "consortiums\t%s\n", strings.Join(a.registry.Consortiums(), ","))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{channelExtendCmd, channelJoinCmd, channelInstallCmd} {
		c.Flags().StringVarP(&channelID, "channel", "c", "", "channel id")
	}
	channelExtendCmd.Flags().StringVar(&channelOrg, "org", "", "organization to add, e.g. orgC")
	channelJoinCmd.Flags().StringSliceVar(&channelOrgs, "org", nil, "organizations to join (default all members)")
	channelJoinCmd.Flags().StringSliceVar(&joinHosts, "hosts", nil, "hosts to join, requires a single --org")

	channelCmd.AddCommand(channelExtendCmd, channelJoinCmd, channelInstallCmd, channelShowCmd)
}
