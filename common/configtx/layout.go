package configtx

import "path/filepath"

const (
	// SystemChannelID is the ordering service system channel.
	SystemChannelID = "orderersystemchannel"
	// SystemGenesisFile holds the ordering service genesis block.
	SystemGenesisFile = "genesis.block"
)

// Layout is the local configtx working tree:
//
//	{root}/genesis        genesis blocks and channel transactions
//	{root}/channels       per-run update artifacts
//	{root}/orgs           printOrg outputs
type Layout struct {
	Root string
}

func NewLayout(root string) Layout { return Layout{Root: root} }

func (l Layout) GenesisDir() string  { return filepath.Join(l.Root, "genesis") }
func (l Layout) ChannelsDir() string { return filepath.Join(l.Root, "channels") }
func (l Layout) OrgsDir() string     { return filepath.Join(l.Root, "orgs") }

// ConfigFile is the configtx.yaml consumed by configtxgen.
func (l Layout) ConfigFile() string { return filepath.Join(l.Root, "configtx.yaml") }

// GenesisPath returns the path of a genesis artifact such as "mychannel.tx".
func (l Layout) GenesisPath(name string) string {
	return filepath.Join(l.GenesisDir(), name)
}

// OrgJSONPath returns where the printOrg description of mspID is kept.
func (l Layout) OrgJSONPath(mspID string) string {
	return filepath.Join(l.OrgsDir(), mspID+".json")
}
