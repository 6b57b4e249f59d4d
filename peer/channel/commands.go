// Package channel builds the peer administrative commands run inside cli
// containers on remote hosts.
package channel

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/ddr4869/fabctl/topology"
)

// CLIDataMount is where a cli container mounts its data volume.
const CLIDataMount = "/root/cli-data/"

// InCLI joins steps with && and runs them inside the cli container of e,
// starting from the data mount.
func InCLI(e *topology.Element, steps ...string) string {
	all := append([]string{"cd " + CLIDataMount}, steps...)
	return fmt.Sprintf(`docker exec %s bash -c "%s"`, e.RoleDomain, strings.Join(all, " && "))
}

// FetchFileName names a fetched config block: {channel}-{12 random hex}.pb.
func FetchFileName(channelID string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s.pb", channelID, id[len(id)-12:])
}

// Fetch is a config block fetch prepared for one cli element.
type Fetch struct {
	Command string
	// RemotePath is where the block lands on the host.
	RemotePath string
}

// FetchConfig fetches the latest config block of channelID into fileName.
func FetchConfig(cli *topology.Element, channelID, fileName, orderer, caFile string) Fetch {
	return Fetch{
		Command: InCLI(cli, fmt.Sprintf("peer channel fetch config %s -c %s -o %s --tls --cafile %s",
			fileName, channelID, orderer, caFile)),
		RemotePath: HostPath(cli, fileName),
	}
}

// SignConfigTx appends the cli identity's signature to envelopeFile in place.
func SignConfigTx(cli *topology.Element, envelopeFile string) string {
	return InCLI(cli, "peer channel signconfigtx -f "+envelopeFile)
}

// Update submits a signed config update envelope to the ordering service.
func Update(cli *topology.Element, envelopeFile, channelID, orderer, caFile string) string {
	return InCLI(cli, fmt.Sprintf("peer channel update -f %s -c %s -o %s --tls true --cafile %s",
		envelopeFile, channelID, orderer, caFile))
}

// Create turns a channel creation transaction into {channel}.block.
func Create(cli *topology.Element, channelID, txFile, orderer, caFile string) string {
	return InCLI(cli, fmt.Sprintf("peer channel create -o %s -c %s -f %s --tls --cafile %s",
		orderer, channelID, txFile, caFile))
}

// Join joins the cli's peer to the channel whose genesis block is blockFile.
func Join(cli *topology.Element, blockFile string) string {
	return InCLI(cli, "peer channel join -b "+blockFile)
}

// FetchGenesisAndJoin fetches block 0 of channelID and joins the cli's peer.
func FetchGenesisAndJoin(cli *topology.Element, channelID, orderer, caFile string) string {
	block := channelID + ".block"
	return InCLI(cli,
		fmt.Sprintf("peer channel fetch 0 %s -o %s -c %s --tls --cafile %s", block, orderer, channelID, caFile),
		"peer channel join -b "+block,
	)
}

// HostPath is the host side location of name in the cli data volume.
func HostPath(cli *topology.Element, name string) string {
	return path.Join(cli.CLIDataDir(), name)
}

// MoveIn moves src on the host into the cli data volume.
func MoveIn(cli *topology.Element, src string) string {
	return fmt.Sprintf("mv %s %s", src, HostPath(cli, path.Base(src)))
}

// Remove deletes name from the cli data volume.
func Remove(cli *topology.Element, name string) string {
	return "rm -f " + HostPath(cli, name)
}
