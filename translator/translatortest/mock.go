// Package translatortest provides a deterministic translator for tests.
//
// The mock "encodes" a message as a one-line type header followed by the
// canonical JSON form, so every stage output is readable and stable.
// Raw JSON handed to DecodeBlockToJSON is accepted as a fetched block.
package translatortest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/blockutil"
	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/translator"
)

// Operation names used by Fail and Calls.
const (
	OpDecodeBlock   = "DecodeBlockToJSON"
	OpEncode        = "EncodeJSONToPB"
	OpDecode        = "DecodePBToJSON"
	OpComputeDelta  = "ComputeDelta"
	OpDescribeOrg   = "DescribeOrganization"
	OpSystemGenesis = "GenerateSystemGenesis"
	OpChannelTx     = "GenerateChannelTx"
)

const header = "PB "

type Mock struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error

	// Organizations overrides the config group returned for an MSP id.
	Organizations map[string][]byte
	// GenesisConsortiums are defined by every generated system genesis.
	GenesisConsortiums []string
}

var _ translator.Toolchain = (*Mock)(nil)

func New() *Mock {
	return &Mock{
		failures:      make(map[string]error),
		Organizations: make(map[string][]byte),
	}
}

// Fail makes every later call of op return an AdapterError wrapping err.
func (m *Mock) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Calls returns the call log, one "Op arg" entry per call.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount counts calls of op.
func (m *Mock) CallCount(op string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == op || strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func (m *Mock) enter(op, arg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := op
	if arg != "" {
		entry += " " + arg
	}
	m.calls = append(m.calls, entry)
	if err, ok := m.failures[op]; ok {
		return errdefs.Adapter(entry, []byte("mock failure"), err)
	}
	return nil
}

func (m *Mock) DecodeBlockToJSON(_ context.Context, block []byte) ([]byte, error) {
	if err := m.enter(OpDecodeBlock, ""); err != nil {
		return nil, err
	}
	return decode(OpDecodeBlock, translator.MsgBlock, block)
}

func (m *Mock) EncodeJSONToPB(_ context.Context, msgType string, data []byte) ([]byte, error) {
	if err := m.enter(OpEncode, msgType); err != nil {
		return nil, err
	}
	return Encode(msgType, data)
}

func (m *Mock) DecodePBToJSON(_ context.Context, msgType string, data []byte) ([]byte, error) {
	if err := m.enter(OpDecode, msgType); err != nil {
		return nil, err
	}
	return decode(OpDecode, msgType, data)
}

// ComputeDelta reports the modified channel group as the write set.
func (m *Mock) ComputeDelta(_ context.Context, channelID string, original, modified []byte) ([]byte, error) {
	if err := m.enter(OpComputeDelta, channelID); err != nil {
		return nil, err
	}
	orig, err := decode(OpComputeDelta, translator.MsgConfig, original)
	if err != nil {
		return nil, err
	}
	mod, err := decode(OpComputeDelta, translator.MsgConfig, modified)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(orig, mod) {
		return nil, errdefs.Adapter(OpComputeDelta, nil, errors.New("no differences detected between original and updated config"))
	}
	origDoc, _ := blockutil.DecodeJSON(orig)
	modDoc, _ := blockutil.DecodeJSON(mod)
	delta, err := configtx.MarshalJSON(blockutil.Document{
		"channel_id": channelID,
		"read_set":   origDoc["channel_group"],
		"write_set":  modDoc["channel_group"],
	})
	if err != nil {
		return nil, err
	}
	return Encode(translator.MsgConfigUpdate, delta)
}

func (m *Mock) DescribeOrganization(_ context.Context, mspID string) ([]byte, error) {
	if err := m.enter(OpDescribeOrg, mspID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	data, ok := m.Organizations[mspID]
	m.mu.Unlock()
	if ok {
		return data, nil
	}
	return configtx.MarshalJSON(OrganizationGroup(mspID))
}

func (m *Mock) GenerateSystemGenesis(_ context.Context, profile, channelID, output string) ([]byte, error) {
	if err := m.enter(OpSystemGenesis, profile); err != nil {
		return nil, err
	}
	m.mu.Lock()
	consortiums := append([]string(nil), m.GenesisConsortiums...)
	m.mu.Unlock()

	block, err := Encode(translator.MsgBlock, SystemConfigBlock(channelID, consortiums...))
	if err != nil {
		return nil, err
	}
	if output != "" {
		if err := writeFile(output, block); err != nil {
			return nil, err
		}
	}
	return block, nil
}

func (m *Mock) GenerateChannelTx(_ context.Context, profile, channelID, output string) error {
	if err := m.enter(OpChannelTx, profile); err != nil {
		return err
	}
	tx, err := Encode(translator.MsgEnvelope, []byte(`{"channel_id":"`+channelID+`"}`))
	if err != nil {
		return err
	}
	return writeFile(output, tx)
}

// Encode renders data the way the mock encodes msgType.
func Encode(msgType string, data []byte) ([]byte, error) {
	canonical, err := canonicalJSON(data)
	if err != nil {
		return nil, errdefs.Adapter(OpEncode+" "+msgType, nil, err)
	}
	return append([]byte(header+msgType+"\n"), canonical...), nil
}

func decode(op, msgType string, data []byte) ([]byte, error) {
	body := data
	if bytes.HasPrefix(data, []byte(header)) {
		line, rest, _ := bytes.Cut(data, []byte("\n"))
		if got := string(line[len(header):]); got != msgType {
			return nil, errdefs.Adapter(op, nil, errors.Errorf("expected %s, got %s", msgType, got))
		}
		body = rest
	}
	canonical, err := canonicalJSON(body)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	return canonical, nil
}

func canonicalJSON(data []byte) ([]byte, error) {
	doc, err := blockutil.DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	return configtx.MarshalJSON(doc)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
