package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/config"
	"github.com/ddr4869/fabctl/remote/remotetest"
)

func chaincodeDeployment(t *testing.T) *config.Deployment {
	d := parseDeployment(t)
	ch := d.Fabric.Channels["DevChannel"]
	ch.Chaincodes = map[string]config.Chaincode{
		"parcel": {Version: "1.0", Path: "github.com/parcel"},
		"asset":  {Version: "2.0", Path: "github.com/asset"},
	}
	d.Fabric.Channels["DevChannel"] = ch
	return d
}

func TestInstallChaincodeOnEveryMemberPeer(t *testing.T) {
	f := newFixture(t, chaincodeDeployment(t), "")

	require.NoError(t, f.ctx.InstallChaincode(context.Background(), ChaincodeRequest{ChannelID: "devchannel"}))

	calls := f.rec.CallsOf(remotetest.KindRun)
	require.Len(t, calls, 4)
	assert.Equal(t, "10.0.0.1", calls[0].Host)
	assert.Contains(t, calls[0].Command, "docker exec peer-cli0.orgA.example.com")
	assert.Contains(t, calls[0].Command, "peer chaincode install -n asset -v 2.0 -p github.com/asset")
	assert.Contains(t, calls[1].Command, "peer chaincode install -n parcel -v 1.0 -p github.com/parcel")
	assert.Equal(t, "10.0.0.2", calls[3].Host)
	for _, c := range calls {
		assert.True(t, c.Privileged)
	}
}

func TestInstallChaincodeToleratesInstalledVersion(t *testing.T) {
	f := newFixture(t, chaincodeDeployment(t), "")
	f.rec.FailRun("peer chaincode install -n parcel", "Error: chaincode parcel:1.0 already exists")

	require.NoError(t, f.ctx.InstallChaincode(context.Background(),
		ChaincodeRequest{ChannelID: "devchannel", Names: []string{"parcel"}}))
	assert.Equal(t, 2, f.rec.CountContaining("peer chaincode install -n parcel"))
}

func TestInstallChaincodeStopsOnFailure(t *testing.T) {
	f := newFixture(t, chaincodeDeployment(t), "")
	f.rec.FailRun("peer chaincode install", "Error: could not find chaincode path")

	err := f.ctx.InstallChaincode(context.Background(), ChaincodeRequest{ChannelID: "devchannel"})
	require.Error(t, err)
	_, ok := errdefs.As[*errdefs.RemoteExecutionError](err)
	assert.True(t, ok)
	assert.Len(t, f.rec.Calls(), 1)
}

func TestChaincodeRequestValidation(t *testing.T) {
	f := newFixture(t, chaincodeDeployment(t), "")
	ctx := context.Background()

	err := f.ctx.InstallChaincode(ctx, ChaincodeRequest{ChannelID: "devchannel", Names: []string{"missing"}})
	assert.True(t, errdefs.IsTopology(err))

	err = f.ctx.InstallChaincode(ctx, ChaincodeRequest{ChannelID: "devchannel", Orgs: []string{"orgC"}})
	assert.True(t, errdefs.IsTopology(err))

	plain := newFixture(t, parseDeployment(t), "")
	err = plain.ctx.InstantiateChaincode(ctx, ChaincodeRequest{ChannelID: "devchannel"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no chaincode")
	assert.Empty(t, f.rec.Calls())
}

func TestInstantiateChaincodeRunsOnce(t *testing.T) {
	f := newFixture(t, chaincodeDeployment(t), "")
	req := ChaincodeRequest{ChannelID: "devchannel", Names: []string{"parcel"}, Args: []string{"init"}}

	require.NoError(t, f.ctx.InstantiateChaincode(context.Background(), req))
	calls := f.rec.CallsOf(remotetest.KindRun)
	require.Len(t, calls, 1)
	assert.Equal(t, "10.0.0.1", calls[0].Host)
	assert.Contains(t, calls[0].Command, `peer chaincode instantiate -o orderer0.example.com:7050 -C devchannel -n parcel -v 1.0 -c '{\"Args\":[\"init\"]}'`)

	require.NoError(t, f.ctx.InstantiateChaincode(context.Background(), req))
	assert.Len(t, f.rec.CallsOf(remotetest.KindRun), 1)

	done, err := f.ledger.Status("chaincode_devchannel_parcel_1.0")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestExtendFromFileUpgradesChaincodes(t *testing.T) {
	base := chaincodeDeployment(t)
	ext, err := config.ParseExtend([]byte(testExtend))
	require.NoError(t, err)
	merged, err := ext.Merge(base, true)
	require.NoError(t, err)

	f := newFixture(t, merged, "")
	require.NoError(t, f.ctx.ExtendFromFile(context.Background(), base, ext))

	assert.Equal(t, 3, f.rec.CountContaining("peer chaincode install -n parcel -v 1.1"))
	assert.Equal(t, 1, f.rec.CountContaining("peer chaincode upgrade -o orderer0.example.com:7050 -C devchannel -n parcel -v 1.1"))
	assert.Equal(t, 1, f.rec.CountContaining("peer chaincode upgrade -o orderer0.example.com:7050 -C devchannel -n asset -v 2.1"))
	assert.Zero(t, f.rec.CountContaining("peer chaincode instantiate"))
}
