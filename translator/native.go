package translator

import (
	"bytes"
	"context"
	"reflect"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-config/protolator"
	cb "github.com/hyperledger/fabric-protos-go/common"
	_ "github.com/hyperledger/fabric-protos-go/msp"
	_ "github.com/hyperledger/fabric-protos-go/orderer"
	_ "github.com/hyperledger/fabric-protos-go/orderer/etcdraft"
	_ "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	protov2 "google.golang.org/protobuf/proto"

	"github.com/ddr4869/fabctl/common/errdefs"
)

// Native is an in-process Adapter. It needs no Fabric binaries.
type Native struct{}

var _ Adapter = Native{}

func NewNative() Native { return Native{} }

func (Native) DecodeBlockToJSON(ctx context.Context, block []byte) ([]byte, error) {
	return Native{}.DecodePBToJSON(ctx, MsgBlock, block)
}

func (Native) EncodeJSONToPB(_ context.Context, msgType string, data []byte) ([]byte, error) {
	op := "proto_encode " + msgType
	msg, err := newMessage(msgType)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	if err := protolator.DeepUnmarshalJSON(bytes.NewReader(data), msg); err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error decoding input"))
	}
	out, err := marshal(msg)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	return out, nil
}

func (Native) DecodePBToJSON(_ context.Context, msgType string, data []byte) ([]byte, error) {
	op := "proto_decode " + msgType
	msg, err := newMessage(msgType)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error unmarshalling"))
	}
	var buf bytes.Buffer
	if err := protolator.DeepMarshalJSON(&buf, msg); err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error encoding output"))
	}
	return buf.Bytes(), nil
}

func (Native) ComputeDelta(_ context.Context, channelID string, original, modified []byte) ([]byte, error) {
	const op = "compute_update"
	origConf := &cb.Config{}
	if err := proto.Unmarshal(original, origConf); err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error unmarshalling original config"))
	}
	updtConf := &cb.Config{}
	if err := proto.Unmarshal(modified, updtConf); err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error unmarshalling updated config"))
	}

	c := configtx.New(origConf)
	c.UpdatedConfig().Reset()
	proto.Merge(c.UpdatedConfig(), updtConf)
	delta, err := c.ComputeMarshaledUpdate(channelID)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error computing config update"))
	}

	// re-encode deterministically so a rerun produces the same envelope
	cu := &cb.ConfigUpdate{}
	if err := proto.Unmarshal(delta, cu); err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error unmarshalling config update"))
	}
	out, err := marshal(cu)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	return out, nil
}

func newMessage(msgType string) (proto.Message, error) {
	t := proto.MessageType(msgType)
	if t == nil {
		return nil, errors.Errorf("message of type %s unknown", msgType)
	}
	return reflect.New(t.Elem()).Interface().(proto.Message), nil
}

// marshal is deterministic so that identical configs encode identically.
func marshal(msg proto.Message) ([]byte, error) {
	out, err := protov2.MarshalOptions{Deterministic: true}.Marshal(proto.MessageV2(msg))
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling")
	}
	return out, nil
}
