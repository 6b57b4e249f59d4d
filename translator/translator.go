// Package translator converts channel configuration between its protobuf and
// JSON forms, computes config update deltas and asks configtxgen for the
// material a configuration change adds.
package translator

import "context"

// Message types understood by the codecs.
const (
	MsgBlock        = "common.Block"
	MsgConfig       = "common.Config"
	MsgConfigUpdate = "common.ConfigUpdate"
	MsgEnvelope     = "common.Envelope"
)

// Adapter is the config codec and delta tool. Failures are
// *errdefs.AdapterError values carrying the tool's diagnostic output.
type Adapter interface {
	DecodeBlockToJSON(ctx context.Context, block []byte) ([]byte, error)
	EncodeJSONToPB(ctx context.Context, msgType string, data []byte) ([]byte, error)
	DecodePBToJSON(ctx context.Context, msgType string, data []byte) ([]byte, error)
	// ComputeDelta returns the common.ConfigUpdate taking original to
	// modified, both encoded common.Config, scoped to channelID.
	ComputeDelta(ctx context.Context, channelID string, original, modified []byte) ([]byte, error)
}

// Describer produces the configuration material of new members.
type Describer interface {
	// DescribeOrganization returns the JSON config group of an organization.
	DescribeOrganization(ctx context.Context, mspID string) ([]byte, error)
	// GenerateSystemGenesis writes a genesis block for profile to output and
	// returns it.
	GenerateSystemGenesis(ctx context.Context, profile, channelID, output string) ([]byte, error)
	// GenerateChannelTx writes the creation transaction of channelID to output.
	GenerateChannelTx(ctx context.Context, profile, channelID, output string) error
}

// Toolchain is an Adapter that can also describe members.
type Toolchain interface {
	Adapter
	Describer
}

type combined struct {
	Adapter
	Describer
}

// Combine pairs a codec with a describer.
func Combine(a Adapter, d Describer) Toolchain {
	return combined{Adapter: a, Describer: d}
}
