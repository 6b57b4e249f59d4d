// Package chaincode builds the peer chaincode lifecycle commands run inside
// cli containers.
package chaincode

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ddr4869/fabctl/peer/channel"
	"github.com/ddr4869/fabctl/topology"
)

// Install packages and installs cc on the cli's peer.
func Install(cli *topology.Element, cc topology.Chaincode) string {
	return channel.InCLI(cli, fmt.Sprintf("peer chaincode install -n %s -v %s -p %s", cc.Name, cc.Version, cc.Path))
}

// Instantiate starts cc on channelID with args passed to its Init.
func Instantiate(cli *topology.Element, channelID string, cc topology.Chaincode, args []string, orderer, caFile string) string {
	return lifecycle(cli, "instantiate", channelID, cc, args, orderer, caFile)
}

// Upgrade moves channelID to the installed version of cc.
func Upgrade(cli *topology.Element, channelID string, cc topology.Chaincode, args []string, orderer, caFile string) string {
	return lifecycle(cli, "upgrade", channelID, cc, args, orderer, caFile)
}

func lifecycle(cli *topology.Element, action, channelID string, cc topology.Chaincode, args []string, orderer, caFile string) string {
	return channel.InCLI(cli, fmt.Sprintf("peer chaincode %s -o %s -C %s -n %s -v %s -c '%s' --tls --cafile %s",
		action, orderer, channelID, cc.Name, cc.Version, initArgs(args), caFile))
}

// initArgs renders {"Args":[...]} escaped for the double quoted bash -c
// wrapper of InCLI.
func initArgs(args []string) string {
	if args == nil {
		args = []string{}
	}
	data, _ := json.Marshal(struct {
		Args []string `json:"Args"`
	}{args})
	return strings.ReplaceAll(string(data), `"`, `\"`)
}
