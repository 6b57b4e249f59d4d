package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const extendDoc = `
version: "1"
hosts:
  pool:
    h4:
      ip: 10.0.0.4
AddPeers:
  orgA: [h4]
AddOrgs:
  orgC:
    peers: [h3]
AddChannels:
  salechannel:
    profile: SaleChannel
    consortium: SaleConsortium
    orgs: [orgA, orgC]
ExtendChannels:
  devchannel:
    orgs: [orgC]
ExtendExplorer:
  channels: [salechannel]
`

func TestExtendMerge(t *testing.T) {
	base := loadTestDeployment(t)
	ext, err := ParseExtend([]byte(extendDoc))
	require.NoError(t, err)

	merged, err := ext.Merge(base, false)
	require.NoError(t, err)

	assert.Equal(t, "2", merged.Version)
	assert.Equal(t, "1", base.Version, "base must not be modified")
	assert.Contains(t, merged.Hosts.Pool, "h4")
	assert.Equal(t, []string{"h1", "h4"}, merged.Fabric.PeerOrgs["orgA"].Peers)
	assert.Contains(t, merged.Fabric.PeerOrgs, "orgC")
	assert.Equal(t, []string{"orgA", "orgB", "orgC"}, merged.Fabric.Channels["devchannel"].Orgs)
	assert.Equal(t, "1.1", merged.Fabric.Channels["devchannel"].Chaincodes["parcel"].Version)
	assert.Contains(t, merged.Fabric.Channels, "salechannel")
	assert.Equal(t, []string{"devchannel", "salechannel"}, merged.Fabric.Explorer.Channels)

	assert.Equal(t, []string{"orgA", "orgB"}, base.Fabric.Channels["devchannel"].Orgs)
	assert.Equal(t, "1.0", base.Fabric.Channels["devchannel"].Chaincodes["parcel"].Version)
}

func TestExtendMergeExcludingChannelMembership(t *testing.T) {
	base := loadTestDeployment(t)
	ext, err := ParseExtend([]byte(extendDoc))
	require.NoError(t, err)

	merged, err := ext.Merge(base, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"orgA", "orgB"}, merged.Fabric.Channels["devchannel"].Orgs)
}

func TestExtendAccessors(t *testing.T) {
	base := loadTestDeployment(t)
	ext, err := ParseExtend([]byte(extendDoc))
	require.NoError(t, err)

	assert.Equal(t, []string{"h4"}, ext.NewHosts(base))
	assert.Equal(t, map[string][]string{"orgA": {"h4"}}, ext.NewPeers())
	assert.Equal(t, []string{"orgC"}, ext.NewOrganizations())
	assert.Equal(t, []NewChannel{{ID: "salechannel", Consortium: "SaleConsortium"}}, ext.NewChannels())
	assert.Equal(t, map[string][]string{"devchannel": {"orgC"}}, ext.ExtendedChannels())
	assert.True(t, ext.NeedsCertificates())
	assert.True(t, ext.NeedsExplorer())
}

func TestExtendMergeRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "version mismatch",
			content: "version: \"3\"\n",
			errMsg:  "versions mismatch",
		},
		{
			name:    "existing peer",
			content: "version: \"1\"\nAddPeers:\n  orgA: [h1]\n",
			errMsg:  "Organization<orgA> to extend peer<h1> have already existed",
		},
		{
			name:    "peers of unknown org",
			content: "version: \"1\"\nAddPeers:\n  orgZ: [h1]\n",
			errMsg:  "Organization orgZ not found",
		},
		{
			name:    "existing org",
			content: "version: \"1\"\nAddOrgs:\n  orgB:\n    peers: [h3]\n",
			errMsg:  "To extend organization orgB have already existed",
		},
		{
			name:    "unknown extend channel",
			content: "version: \"1\"\nExtendChannels:\n  nochannel:\n    orgs: [orgA]\n",
			errMsg:  "To extend channel<nochannel> not found",
		},
		{
			name:    "unknown org in extend channel",
			content: "version: \"1\"\nExtendChannels:\n  devchannel:\n    orgs: [orgZ]\n",
			errMsg:  "organization orgZ could not been found",
		},
		{
			name:    "org already in channel",
			content: "version: \"1\"\nExtendChannels:\n  devchannel:\n    orgs: [orgB]\n",
			errMsg:  "To extend channel<devchannel>'s organization orgB have already existed",
		},
		{
			name:    "new channel without profile",
			content: "version: \"1\"\nAddChannels:\n  c2:\n    consortium: C2\n    orgs: [orgA, orgB]\n",
			errMsg:  "must have attr 'profile'",
		},
		{
			name:    "new channel without consortium",
			content: "version: \"1\"\nAddChannels:\n  c2:\n    profile: P2\n    orgs: [orgA, orgB]\n",
			errMsg:  "must have attr 'consortium'",
		},
		{
			name:    "new channel with a single org",
			content: "version: \"1\"\nAddChannels:\n  c2:\n    profile: P2\n    consortium: C2\n    orgs: [orgA]\n",
			errMsg:  "must have multiple organizations",
		},
		{
			name:    "existing channel id",
			content: "version: \"1\"\nAddChannels:\n  devchannel:\n    profile: P2\n    consortium: C2\n    orgs: [orgA, orgB]\n",
			errMsg:  "To extend channel id devchannel have already existed",
		},
		{
			name:    "existing profile",
			content: "version: \"1\"\nAddChannels:\n  c2:\n    profile: devchannel\n    consortium: C2\n    orgs: [orgA, orgB]\n",
			errMsg:  "profile devchannel have already existed",
		},
		{
			name: "repeated consortium",
			content: `version: "1"
AddChannels:
  c2: {profile: P2, consortium: Same, orgs: [orgA, orgB]}
  c3: {profile: P3, consortium: same, orgs: [orgA, orgB]}
`,
			errMsg: "To extend channels have the same consortium <same>",
		},
		{
			name:    "explorer channel already present",
			content: "version: \"1\"\nExtendExplorer:\n  channels: [devchannel]\n",
			errMsg:  "To extend explorer channels devchannel have already existed",
		},
		{
			name:    "explorer channel unknown",
			content: "version: \"1\"\nExtendExplorer:\n  channels: [nochannel]\n",
			errMsg:  "To extend explorer channels nochannel could not been found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := ParseExtend([]byte(tt.content))
			require.NoError(t, err)
			_, err = ext.Merge(loadTestDeployment(t), false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseExtendRequiresVersion(t *testing.T) {
	_, err := ParseExtend([]byte("AddOrgs: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing version")
}
