package blockutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/errdefs"
)

// Document is a decoded JSON object as produced by the config codec.
type Document = map[string]any

// DecodeJSON parses a JSON object keeping numbers verbatim.
func DecodeJSON(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "malformed JSON document")
	}
	if doc == nil {
		return nil, errors.New("JSON document is not an object")
	}
	return doc, nil
}

// ExtractConfig returns .data.data[0].payload.data.config of a decoded config block.
func ExtractConfig(block Document) (Document, error) {
	data, err := object(block, "data")
	if err != nil {
		return nil, err
	}
	envelopes, ok := data["data"].([]any)
	if !ok || len(envelopes) == 0 {
		return nil, errors.New("block contains no envelopes at .data.data")
	}
	first, ok := envelopes[0].(map[string]any)
	if !ok {
		return nil, errors.New("block envelope .data.data[0] is not an object")
	}
	config, err := object(first, "payload", "data", "config")
	if err != nil {
		return nil, errors.Wrap(err, "block is not a config block")
	}
	return config, nil
}

// ApplicationGroups returns channel_group.groups.Application.groups.
func ApplicationGroups(config Document) (Document, error) {
	return object(config, "channel_group", "groups", "Application", "groups")
}

// ConsortiumGroups returns channel_group.groups.Consortiums.groups.
func ConsortiumGroups(config Document) (Document, error) {
	return object(config, "channel_group", "groups", "Consortiums", "groups")
}

// InsertOrganization adds the printOrg description of mspID to the
// application group of a channel config. The organization must not already
// be a member.
func InsertOrganization(config Document, channelID, mspID string, org Document) error {
	groups, err := ApplicationGroups(config)
	if err != nil {
		return err
	}
	if _, exists := groups[mspID]; exists {
		return errdefs.Conflict("organization", mspID, "channel "+channelID)
	}
	groups[mspID] = org
	return nil
}

// InsertConsortium copies consortium name from a freshly generated system
// genesis config into the system channel config.
func InsertConsortium(config Document, name string, genesisConfig Document) error {
	groups, err := ConsortiumGroups(config)
	if err != nil {
		return err
	}
	if _, exists := groups[name]; exists {
		return errdefs.Conflict("consortium", name, "system channel")
	}

	source, err := ConsortiumGroups(genesisConfig)
	if err != nil {
		return errors.Wrap(err, "generated genesis has no consortiums")
	}
	consortium, ok := source[name]
	if !ok {
		return errors.Errorf("generated genesis does not define consortium %s", name)
	}
	groups[name] = consortium
	return nil
}

// Keys returns the sorted keys of a group map.
func Keys(groups Document) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func object(doc Document, path ...string) (Document, error) {
	cur := doc
	for i, key := range path {
		next, ok := cur[key]
		if !ok {
			return nil, errors.Errorf("missing field %s", fieldPath(path[:i+1]))
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, errors.Errorf("field %s is not an object", fieldPath(path[:i+1]))
		}
		cur = m
	}
	return cur, nil
}

func fieldPath(path []string) string {
	var b bytes.Buffer
	for _, p := range path {
		fmt.Fprintf(&b, ".%s", p)
	}
	return b.String()
}
