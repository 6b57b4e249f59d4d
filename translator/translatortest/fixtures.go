package translatortest

import (
	"github.com/ddr4869/fabctl/common/blockutil"
	"github.com/ddr4869/fabctl/common/configtx"
)

// OrganizationGroup is a minimal printOrg style config group.
func OrganizationGroup(mspID string) blockutil.Document {
	return blockutil.Document{
		"mod_policy": "Admins",
		"values": blockutil.Document{
			"MSP": blockutil.Document{
				"mod_policy": "Admins",
				"value":      blockutil.Document{"config": blockutil.Document{"name": mspID}},
			},
		},
	}
}

// ConfigBlock is the JSON form of an application channel config block whose
// members are mspIDs.
func ConfigBlock(channelID string, mspIDs ...string) []byte {
	orgs := blockutil.Document{}
	for _, id := range mspIDs {
		orgs[id] = OrganizationGroup(id)
	}
	return block(channelID, blockutil.Document{
		"Application": blockutil.Document{"groups": orgs, "mod_policy": "Admins"},
		"Orderer":     blockutil.Document{"groups": blockutil.Document{}},
	})
}

// SystemConfigBlock is the JSON form of a system channel config block
// defining consortiums.
func SystemConfigBlock(channelID string, consortiums ...string) []byte {
	groups := blockutil.Document{}
	for _, name := range consortiums {
		groups[name] = blockutil.Document{"groups": blockutil.Document{}, "mod_policy": "/Channel/Orderer/Admins"}
	}
	return block(channelID, blockutil.Document{
		"Consortiums": blockutil.Document{"groups": groups},
		"Orderer":     blockutil.Document{"groups": blockutil.Document{}},
	})
}

func block(channelID string, groups blockutil.Document) []byte {
	doc := blockutil.Document{
		"header": blockutil.Document{"number": "4"},
		"data": blockutil.Document{
			"data": []any{
				blockutil.Document{
					"payload": blockutil.Document{
						"header": blockutil.Document{
							"channel_header": blockutil.Document{"channel_id": channelID, "type": 1},
						},
						"data": blockutil.Document{
							"config": blockutil.Document{
								"sequence":      "3",
								"channel_group": blockutil.Document{"groups": groups, "mod_policy": "Admins"},
							},
						},
					},
				},
			},
		},
	}
	data, err := configtx.MarshalJSON(doc)
	if err != nil {
		panic(err)
	}
	return data
}
