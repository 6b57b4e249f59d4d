package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/config"
	"github.com/ddr4869/fabctl/orderer"
	"github.com/ddr4869/fabctl/peer/channel"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/remote/remotetest"
	"github.com/ddr4869/fabctl/storage"
	"github.com/ddr4869/fabctl/topology"
	"github.com/ddr4869/fabctl/translator/translatortest"
)

const testDeployment = `
version: "1"
hosts:
  credential:
    user: fabric
    password: secret
  pool:
    h1: {ip: 10.0.0.1}
    h2: {ip: 10.0.0.2}
    h3: {ip: 10.0.0.3}
fabric:
  version: {fabric: 1.4.4}
  ordererOrg:
    domain: example.com
    zookeepers: [h1]
    kafkas: [h1]
    orderers: [h1]
  peerOrgs:
    orgA:
      peers: [h1]
    orgB:
      peers: [h2]
    orgC:
      peers: [h3]
  channels:
    DevChannel:
      profile: DevChannel
      consortium: DevConsortium
      orgs: [orgA, orgB]
`

type fixture struct {
	reg    *topology.Registry
	rec    *remotetest.Recorder
	tools  *translatortest.Mock
	store  *configtx.Store
	ledger *storage.Ledger
	p      *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := config.ParseDeployment([]byte(testDeployment))
	require.NoError(t, err)
	reg, err := topology.Load(d, topology.Layout{ComposeDir: t.TempDir(), TmpDir: "/tmp"})
	require.NoError(t, err)

	ledger, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	f := &fixture{
		reg:    reg,
		rec:    remotetest.New(),
		tools:  translatortest.New(),
		store:  configtx.NewStore(t.TempDir()),
		ledger: ledger,
	}
	f.tools.GenesisConsortiums = []string{"SampleConsortium", "NewConsortium"}

	f.rec.OnRun("peer channel fetch config", func(r *remotetest.Recorder, host *types.Host, cmd string) (*remote.Result, error) {
		cli := f.cli(t, cmd)
		block := translatortest.ConfigBlock("devchannel", "OrgAMSP", "OrgBMSP")
		if strings.Contains(cmd, "-c "+configtx.SystemChannelID) {
			block = translatortest.SystemConfigBlock(configtx.SystemChannelID, "SampleConsortium")
		}
		r.PutFile(host.Address, channel.HostPath(cli, argAfter(cmd, "config")), block)
		return nil, nil
	})
	f.rec.OnRun("peer channel signconfigtx", f.signHandler(t))

	f.p, err = New(Options{
		Registry: reg,
		Executor: f.rec,
		Tools:    f.tools,
		Store:    f.store,
		Ledger:   ledger,
	})
	require.NoError(t, err)
	return f
}

// signHandler appends "sig:{cli}" to the envelope in the cli volume.
func (f *fixture) signHandler(t *testing.T) remotetest.RunHandler {
	return func(r *remotetest.Recorder, host *types.Host, cmd string) (*remote.Result, error) {
		cli := f.cli(t, cmd)
		p := channel.HostPath(cli, argAfter(cmd, "-f"))
		data, ok := r.File(host.Address, p)
		if !ok {
			return &remote.Result{ExitStatus: 1, Stderr: "no such file"}, nil
		}
		r.PutFile(host.Address, p, append(data, []byte("\nsig:"+cli.RoleDomain)...))
		return nil, nil
	}
}

func (f *fixture) cli(t *testing.T, cmd string) *topology.Element {
	fields := strings.Fields(cmd)
	require.True(t, len(fields) > 2 && fields[0] == "docker", cmd)
	e, ok := f.reg.Element(fields[2])
	require.True(t, ok, fields[2])
	return e
}

func argAfter(cmd, flag string) string {
	fields := strings.Fields(cmd)
	for i, field := range fields[:len(fields)-1] {
		if field == flag {
			return strings.Trim(fields[i+1], `"`)
		}
	}
	return ""
}

func addOrgC(t *testing.T) AddOrganization {
	add, err := NewAddOrganization("orgC")
	require.NoError(t, err)
	return add
}

func TestRunAddsOrganization(t *testing.T) {
	f := newFixture(t)
	add := addOrgC(t)
	require.Equal(t, "OrgCMSP", add.Subject())

	res, err := f.p.Run(context.Background(), "DevChannel", add)
	require.NoError(t, err)

	assert.Equal(t, "devchannel", res.ChannelID)
	assert.Equal(t, "orderer0.example.com:7050", res.Orderer)
	assert.Equal(t, []string{"peer-cli0.orgA.example.com", "peer-cli0.orgB.example.com"}, res.Signers)
	assert.Empty(t, res.Resumed)

	// the block is fetched once, through the first member's admin cli
	var fetches []remotetest.Call
	for _, c := range f.rec.CallsOf(remotetest.KindRun) {
		if strings.Contains(c.Command, "peer channel fetch config") {
			fetches = append(fetches, c)
		}
	}
	require.Len(t, fetches, 1)
	assert.Equal(t, "10.0.0.1", fetches[0].Host)
	assert.True(t, strings.HasPrefix(fetches[0].Command, "docker exec peer-cli0.orgA.example.com "), fetches[0].Command)
	var blocks []remotetest.Call
	for _, c := range f.rec.CallsOf(remotetest.KindDownload) {
		if strings.Contains(c.Remote, "/devchannel-") {
			blocks = append(blocks, c)
		}
	}
	require.Len(t, blocks, 1)
	assert.Equal(t, "10.0.0.1", blocks[0].Host)

	for _, a := range []configtx.Artifact{
		configtx.Block, configtx.BlockJSON, configtx.ConfigSnapshotJSON, configtx.ModifiedConfigJSON,
		configtx.ConfigSnapshotPB, configtx.ModifiedConfigPB, configtx.UpdateDeltaPB, configtx.UpdateDeltaJSON,
		configtx.UpdateEnvelopeJSON, configtx.UpdateEnvelopePB, configtx.SignedEnvelopePB,
	} {
		assert.True(t, f.store.Exists("devchannel", "OrgCMSP", a), a.String())
	}

	modified, err := f.store.Read("devchannel", "OrgCMSP", configtx.ModifiedConfigJSON)
	require.NoError(t, err)
	assert.Contains(t, string(modified), `"OrgCMSP"`)

	signed, err := f.store.Read("devchannel", "OrgCMSP", configtx.SignedEnvelopePB)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(signed), "\nsig:peer-cli0.orgA.example.com\nsig:peer-cli0.orgB.example.com"))
	assert.Equal(t, res.SignedEnvelope, f.store.Path("devchannel", "OrgCMSP", configtx.SignedEnvelopePB))

	cmds := f.rec.Commands()
	update := cmds[len(cmds)-2]
	assert.Contains(t, update, "docker exec peer-cli0.orgB.example.com")
	assert.Contains(t, update, "peer channel update -f OrgCMSP_signed_in_envelope.pb -c devchannel -o orderer0.example.com:7050")
	for _, c := range f.rec.CallsOf(remotetest.KindRun) {
		assert.True(t, c.Privileged, c.Command)
	}

	ch, err := f.reg.Channel("devchannel")
	require.NoError(t, err)
	assert.Equal(t, []string{"orgA", "orgB", "orgC"}, ch.Members)

	members, err := f.ledger.Members("devchannel")
	require.NoError(t, err)
	assert.Equal(t, []string{"orgC"}, members)

	rec, err := f.ledger.Signatures("devchannel", "OrgCMSP")
	require.NoError(t, err)
	assert.True(t, rec.Submitted)
}

func TestRunToleratesCleanupFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := logger.GetLogger()
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(prev.Desugar()) })

	f := newFixture(t)
	f.rec.FailRun("rm -f", "rm: cannot remove: Permission denied")

	_, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.NoError(t, err)
	assert.Equal(t, 2, f.rec.CountContaining("rm -f"))

	warnings := logs.FilterMessageSnippet("failed to remove").All()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0].Message, "peer-cli0.orgA.example.com")
	assert.Contains(t, warnings[1].Message, "OrgCMSP_signed_in_envelope.pb")
}

func TestRunSubmitFailureKeepsMembership(t *testing.T) {
	f := newFixture(t)
	f.rec.FailRun("peer channel update", "BAD_REQUEST -- error applying config update")

	_, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.Error(t, err)

	stageErr, ok := errdefs.As[*errdefs.StageError](err)
	require.True(t, ok)
	assert.Equal(t, StageSubmit, stageErr.Stage)
	assert.True(t, errdefs.IsRemote(err))

	ch, err := f.reg.Channel("devchannel")
	require.NoError(t, err)
	assert.Equal(t, []string{"orgA", "orgB"}, ch.Members)

	members, err := f.ledger.Members("devchannel")
	require.NoError(t, err)
	assert.Empty(t, members)

	rec, err := f.ledger.Signatures("devchannel", "OrgCMSP")
	require.NoError(t, err)
	assert.False(t, rec.Submitted)
	assert.Len(t, rec.Signers, 2)
}

func TestRunExistingMemberConflicts(t *testing.T) {
	f := newFixture(t)
	add, err := NewAddOrganization("orgB")
	require.NoError(t, err)

	_, err = f.p.Run(context.Background(), "devchannel", add)
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))

	stageErr, ok := errdefs.As[*errdefs.StageError](err)
	require.True(t, ok)
	assert.Equal(t, StageModify, stageErr.Stage)
	assert.Equal(t, "modified_config.json", stageErr.Artifact)

	assert.Empty(t, f.rec.CallsOf(remotetest.KindUpload))
	assert.Zero(t, f.rec.CountContaining("signconfigtx"))
	assert.Zero(t, f.rec.CountContaining("peer channel update"))
	assert.Zero(t, f.tools.CallCount(translatortest.OpComputeDelta))
}

func TestRunRejectsUnknownOrganization(t *testing.T) {
	f := newFixture(t)
	add, err := NewAddOrganization("orgZ")
	require.NoError(t, err)

	_, err = f.p.Run(context.Background(), "devchannel", add)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Contains(t, err.Error(), "Org: orgZ is invalid")
	assert.Empty(t, f.rec.Calls())
}

func TestRunAdapterFailureNamesArtifact(t *testing.T) {
	f := newFixture(t)
	f.tools.Fail(translatortest.OpComputeDelta, errors.New("configtxlator exploded"))

	_, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.Error(t, err)
	assert.True(t, errdefs.IsAdapter(err))

	stageErr, ok := errdefs.As[*errdefs.StageError](err)
	require.True(t, ok)
	assert.Equal(t, StageDiff, stageErr.Stage)
	assert.Equal(t, "OrgCMSP_updated.pb", stageErr.Artifact)
	assert.True(t, f.store.Exists("devchannel", "OrgCMSP", configtx.ModifiedConfigPB))
	assert.False(t, f.store.Exists("devchannel", "OrgCMSP", configtx.UpdateDeltaPB))
}

func TestRerunRestagesIdenticalArtifactsAndResumes(t *testing.T) {
	f := newFixture(t)
	f.rec.FailRun("peer channel update", "SERVICE_UNAVAILABLE")

	_, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.Error(t, err)
	envelope, err := f.store.Read("devchannel", "OrgCMSP", configtx.UpdateEnvelopePB)
	require.NoError(t, err)
	signed, err := f.store.Read("devchannel", "OrgCMSP", configtx.SignedEnvelopePB)
	require.NoError(t, err)

	f.rec.OnRun("peer channel update", func(*remotetest.Recorder, *types.Host, string) (*remote.Result, error) {
		return nil, nil
	})
	f.rec.Reset()

	res, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.NoError(t, err)

	again, err := f.store.Read("devchannel", "OrgCMSP", configtx.UpdateEnvelopePB)
	require.NoError(t, err)
	assert.Equal(t, envelope, again)

	assert.Equal(t, []string{"peer-cli0.orgA.example.com", "peer-cli0.orgB.example.com"}, res.Resumed)
	assert.Zero(t, f.rec.CountContaining("signconfigtx"))
	submitted, err := f.store.Read("devchannel", "OrgCMSP", configtx.SignedEnvelopePB)
	require.NoError(t, err)
	assert.Equal(t, signed, submitted)
}

func TestRunResumesPartialSignatures(t *testing.T) {
	f := newFixture(t)
	orgB := "docker exec peer-cli0.orgB.example.com bash -c \"cd /root/cli-data/ && peer channel signconfigtx"
	f.rec.FailRun(orgB, "identity expired")

	_, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.Error(t, err)
	stageErr, ok := errdefs.As[*errdefs.StageError](err)
	require.True(t, ok)
	assert.Equal(t, StageSign, stageErr.Stage)

	rec, err := f.ledger.Signatures("devchannel", "OrgCMSP")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-cli0.orgA.example.com"}, rec.Signers)

	f.rec.OnRun(orgB, f.signHandler(t))
	f.rec.Reset()

	res, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-cli0.orgA.example.com"}, res.Resumed)
	assert.Equal(t, 1, f.rec.CountContaining("signconfigtx"))

	signed, err := f.store.Read("devchannel", "OrgCMSP", configtx.SignedEnvelopePB)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(signed), "sig:peer-cli0.orgA.example.com"))
	assert.Equal(t, 1, strings.Count(string(signed), "sig:peer-cli0.orgB.example.com"))
}

func TestRunRestartsSigningWithoutSignedEnvelope(t *testing.T) {
	f := newFixture(t)
	f.rec.FailRun("peer channel update", "SERVICE_UNAVAILABLE")
	_, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.Error(t, err)

	require.NoError(t, f.store.Clean("devchannel"))
	f.rec.Reset()

	_, err = f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.Error(t, err)
	assert.Equal(t, 2, f.rec.CountContaining("signconfigtx"))
}

func TestRunAddsConsortium(t *testing.T) {
	f := newFixture(t)
	add := AddConsortium{Name: "NewConsortium", GenesisProfile: "NewGenesis"}

	res, err := f.p.Run(context.Background(), configtx.SystemChannelID, add)
	require.NoError(t, err)
	assert.Equal(t, []string{"orderer-cli0.example.com"}, res.Signers)
	assert.Equal(t, 1, f.tools.CallCount(translatortest.OpSystemGenesis))

	modified, err := f.store.Read(configtx.SystemChannelID, "NewConsortium", configtx.ModifiedConfigJSON)
	require.NoError(t, err)
	assert.Contains(t, string(modified), `"NewConsortium"`)
	assert.FileExists(t, f.store.FilePath(configtx.SystemChannelID, "NewConsortium", "system.json"))

	assert.True(t, f.reg.HasConsortium("NewConsortium"))
	consortiums, err := f.ledger.Consortiums()
	require.NoError(t, err)
	assert.Equal(t, []string{"NewConsortium"}, consortiums)

	fetch := f.rec.Commands()[0]
	assert.Contains(t, fetch, "docker exec orderer-cli0.example.com")
	assert.Contains(t, fetch, "--cafile "+f.reg.OrdererCLITLSCA())
}

func TestRunConsortiumConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Run(context.Background(), configtx.SystemChannelID,
		AddConsortium{Name: "SampleConsortium", GenesisProfile: "NewGenesis"})
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}

func TestRunRejectsMismatchedChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.p.Run(context.Background(), "devchannel", AddConsortium{Name: "X", GenesisProfile: "P"})
	assert.True(t, errdefs.IsTopology(err))

	_, err = f.p.Run(context.Background(), configtx.SystemChannelID, addOrgC(t))
	assert.True(t, errdefs.IsTopology(err))

	_, err = f.p.Run(context.Background(), "nochannel", addOrgC(t))
	assert.True(t, errdefs.IsNotFound(err))

	_, err = f.p.Run(context.Background(), "devchannel", nil)
	assert.Error(t, err)
}

func TestRunSerializesChannel(t *testing.T) {
	f := newFixture(t)
	unlock, err := f.p.lock(context.Background(), "devchannel")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.p.Run(ctx, "devchannel", addOrgC(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.rec.Calls())

	unlock()
	_, err = f.p.Run(context.Background(), "devchannel", addOrgC(t))
	assert.NoError(t, err)
}

type stubSelector struct{ got []orderer.Endpoint }

func (s *stubSelector) Select(_ context.Context, eps []orderer.Endpoint) (string, error) {
	s.got = eps
	return eps[len(eps)-1].Name, nil
}

func TestRunUsesSelectedOrderer(t *testing.T) {
	f := newFixture(t)
	sel := &stubSelector{}
	f.p.opts.Orderer = sel

	res, err := f.p.Run(context.Background(), "devchannel", addOrgC(t))
	require.NoError(t, err)
	require.Len(t, sel.got, 1)
	assert.Equal(t, "orderer0.example.com:7050", res.Orderer)
	assert.Equal(t, "10.0.0.1:7050", sel.got[0].Dial)
}
