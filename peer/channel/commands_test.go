package channel

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/topology"
)

const caFile = "/etc/fabric/ca.pem"

func testCLIs(t *testing.T) (peerCLI, ordererCLI *topology.Element) {
	t.Helper()
	r := topology.NewRegistry(topology.Layout{Domain: "example.com"})
	require.NoError(t, r.AddHost(&types.Host{Address: "10.0.0.1", ID: "h1", User: "fabric", Password: "secret"}))

	var err error
	peerCLI, err = r.Assign(types.RolePeerCLI, "orgA", "orgA.example.com", "0", "h1")
	require.NoError(t, err)
	ordererCLI, err = r.Assign(types.RoleOrdererCLI, topology.OrdererOrg, "example.com", "0", "h1")
	require.NoError(t, err)
	return peerCLI, ordererCLI
}

func TestFetchFileName(t *testing.T) {
	name := FetchFileName("devchannel")
	assert.Regexp(t, regexp.MustCompile(`^devchannel-[0-9a-f]{12}\.pb$`), name)
	assert.NotEqual(t, name, FetchFileName("devchannel"))
}

func TestFetchConfig(t *testing.T) {
	cli, _ := testCLIs(t)

	fetch := FetchConfig(cli, "devchannel", "devchannel-0123456789ab.pb", "orderer0.example.com:7050", caFile)
	assert.Equal(t,
		`docker exec peer-cli0.orgA.example.com bash -c "cd /root/cli-data/ && `+
			`peer channel fetch config devchannel-0123456789ab.pb -c devchannel -o orderer0.example.com:7050 --tls --cafile /etc/fabric/ca.pem"`,
		fetch.Command)
	assert.Equal(t, "/data/fabric/peer0.orgA.example.com/cli-data/devchannel-0123456789ab.pb", fetch.RemotePath)
}

func TestSignAndUpdate(t *testing.T) {
	_, cli := testCLIs(t)

	assert.Equal(t,
		`docker exec orderer-cli0.example.com bash -c "cd /root/cli-data/ && peer channel signconfigtx -f sys_signed_in_envelope.pb"`,
		SignConfigTx(cli, "sys_signed_in_envelope.pb"))
	assert.Equal(t,
		`docker exec orderer-cli0.example.com bash -c "cd /root/cli-data/ && `+
			`peer channel update -f sys_signed_in_envelope.pb -c orderersystemchannel -o orderer0.example.com:7050 --tls true --cafile /etc/fabric/ca.pem"`,
		Update(cli, "sys_signed_in_envelope.pb", "orderersystemchannel", "orderer0.example.com:7050", caFile))
}

func TestJoinCommands(t *testing.T) {
	cli, _ := testCLIs(t)

	assert.Equal(t,
		`docker exec peer-cli0.orgA.example.com bash -c "cd /root/cli-data/ && `+
			`peer channel fetch 0 devchannel.block -o orderer0.example.com:7050 -c devchannel --tls --cafile /etc/fabric/ca.pem && `+
			`peer channel join -b devchannel.block"`,
		FetchGenesisAndJoin(cli, "devchannel", "orderer0.example.com:7050", caFile))
	assert.Equal(t,
		`docker exec peer-cli0.orgA.example.com bash -c "cd /root/cli-data/ && peer channel join -b devchannel.block"`,
		Join(cli, "devchannel.block"))
	assert.Equal(t,
		`docker exec peer-cli0.orgA.example.com bash -c "cd /root/cli-data/ && `+
			`peer channel create -o orderer0.example.com:7050 -c devchannel -f devchannel.tx --tls --cafile /etc/fabric/ca.pem"`,
		Create(cli, "devchannel", "devchannel.tx", "orderer0.example.com:7050", caFile))
}

func TestVolumeCommands(t *testing.T) {
	cli, _ := testCLIs(t)

	assert.Equal(t, "mv /tmp/a_signed_in_envelope.pb /data/fabric/peer0.orgA.example.com/cli-data/a_signed_in_envelope.pb",
		MoveIn(cli, "/tmp/a_signed_in_envelope.pb"))
	assert.Equal(t, "rm -f /data/fabric/peer0.orgA.example.com/cli-data/x.pb", Remove(cli, "x.pb"))
}
