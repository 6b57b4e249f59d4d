package blockutil

// ConfigUpdateType is the channel header type of a config update transaction.
const ConfigUpdateType = 2

// WrapEnvelope wraps a decoded ConfigUpdate in an envelope addressed to channelID.
func WrapEnvelope(channelID string, update Document) Document {
	return Document{
		"payload": Document{
			"header": Document{
				"channel_header": Document{
					"channel_id": channelID,
					"type":       ConfigUpdateType,
				},
			},
			"data": Document{
				"config_update": update,
			},
		},
	}
}
