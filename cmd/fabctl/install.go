package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ddr4869/fabctl/deploy"
)

var (
	installHosts     []string
	installOrgs      []string
	installDetect    bool
	installUninstall bool
	installRestart   bool
)

var installCmd = &cobra.Command{
	Use:   "install <module>",
	Short: "Install, detect, uninstall or restart a module on its hosts",
	Long: `Modules are docker, zookeeper, kafka, orderer, orderer-cli, peer,
peer-cli and explorer. Hosts may only be given for a single module; peer and
peer-cli hosts also need a single --orgs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := installMode()
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.deploy.Install(cmd.Context(), args[0], installHosts, installOrgs, mode)
	},
}

func installMode() (deploy.Mode, error) {
	set := 0
	mode := deploy.ModeInstall
	if installDetect {
		set++
		mode = deploy.ModeDetect
	}
	if installUninstall {
		set++
		mode = deploy.ModeUninstall
	}
	if installRestart {
		set++
		mode = deploy.ModeRestart
	}
	if set > 1 {
		return mode, errors.New("--detect, --uninstall and --restart are exclusive")
	}
	return mode, nil
}

func init() {
	f := installCmd.Flags()
	f.StringSliceVar(&installHosts, "hosts", nil, "host ips or pool ids")
	f.StringSliceVar(&installOrgs, "orgs", nil, "organizations")
	f.BoolVar(&installDetect, "detect", false, "only detect the containers")
	f.BoolVar(&installUninstall, "uninstall", false, "remove containers and data")
	f.BoolVar(&installRestart, "restart", false, "restart the module")
}
