package blockutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddr4869/fabctl/common/errdefs"
)

const blockJSON = `{
	"data": {"data": [{"payload": {"data": {"config": {
		"sequence": "4",
		"channel_group": {"groups": {
			"Application": {"groups": {"OrgAMSP": {"mod_policy": "Admins"}}},
			"Consortiums": {"groups": {"SampleConsortium": {}}}
		}}
	}}}}]}
}`

func TestExtractConfig(t *testing.T) {
	block, err := DecodeJSON([]byte(blockJSON))
	require.NoError(t, err)

	config, err := ExtractConfig(block)
	require.NoError(t, err)
	assert.Equal(t, json.Number("4"), config["sequence"])

	groups, err := ApplicationGroups(config)
	require.NoError(t, err)
	assert.Equal(t, []string{"OrgAMSP"}, Keys(groups))

	_, err = ExtractConfig(Document{"data": Document{"data": []any{}}})
	assert.ErrorContains(t, err, "no envelopes")
	_, err = ExtractConfig(Document{})
	assert.ErrorContains(t, err, "missing field .data")
}

func TestDecodeJSONRejectsNonObjects(t *testing.T) {
	_, err := DecodeJSON([]byte("null"))
	assert.Error(t, err)
	_, err = DecodeJSON([]byte("{"))
	assert.ErrorContains(t, err, "malformed JSON")
}

func TestInsertOrganization(t *testing.T) {
	block, err := DecodeJSON([]byte(blockJSON))
	require.NoError(t, err)
	config, err := ExtractConfig(block)
	require.NoError(t, err)

	require.NoError(t, InsertOrganization(config, "devchannel", "OrgBMSP", Document{"mod_policy": "Admins"}))
	groups, err := ApplicationGroups(config)
	require.NoError(t, err)
	assert.Equal(t, []string{"OrgAMSP", "OrgBMSP"}, Keys(groups))

	err = InsertOrganization(config, "devchannel", "OrgAMSP", Document{})
	assert.True(t, errdefs.IsConflict(err))
}

func TestInsertConsortium(t *testing.T) {
	block, err := DecodeJSON([]byte(blockJSON))
	require.NoError(t, err)
	config, err := ExtractConfig(block)
	require.NoError(t, err)

	genesis := Document{"channel_group": Document{"groups": Document{
		"Consortiums": Document{"groups": Document{"NewConsortium": Document{"groups": Document{}}}},
	}}}
	require.NoError(t, InsertConsortium(config, "NewConsortium", genesis))
	groups, err := ConsortiumGroups(config)
	require.NoError(t, err)
	assert.Equal(t, []string{"NewConsortium", "SampleConsortium"}, Keys(groups))

	assert.True(t, errdefs.IsConflict(InsertConsortium(config, "SampleConsortium", genesis)))
	assert.ErrorContains(t, InsertConsortium(config, "OtherConsortium", genesis), "does not define")
}

func TestWrapEnvelope(t *testing.T) {
	env := WrapEnvelope("devchannel", Document{"channel_id": "devchannel"})
	header, err := object(env, "payload", "header", "channel_header")
	require.NoError(t, err)
	assert.Equal(t, "devchannel", header["channel_id"])
	assert.Equal(t, ConfigUpdateType, header["type"])
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest([]byte("a")), Digest([]byte("a")))
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
	assert.Len(t, Digest(nil), 64)
}
