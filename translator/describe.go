package translator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/golang/protobuf/proto"
	fabricconfig "github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-config/protolator"
	"github.com/hyperledger/fabric-config/protolator/protoext/peerext"
	cb "github.com/hyperledger/fabric-protos-go/common"
	mspproto "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/cert"
	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/msp"
)

const adminsPolicy = "Admins"

// NativeDescriber builds organization config groups from configtx.yaml and
// the organization's MSP directory without configtxgen. Genesis material is
// still produced by the fallback describer.
type NativeDescriber struct {
	layout   configtx.Layout
	fallback Describer
}

var _ Describer = (*NativeDescriber)(nil)

func NewNativeDescriber(layout configtx.Layout, fallback Describer) *NativeDescriber {
	return &NativeDescriber{layout: layout, fallback: fallback}
}

// DescribeOrganization renders the group configtxgen -printOrg would print
// and caches it under the configtx orgs directory.
func (d *NativeDescriber) DescribeOrganization(_ context.Context, mspID string) ([]byte, error) {
	op := "printOrg " + mspID
	cache := d.layout.OrgJSONPath(mspID)
	if data, err := os.ReadFile(cache); err == nil && len(bytes.TrimSpace(data)) > 0 {
		logger.Debugf("[Translator] using cached %s", cache)
		return data, nil
	}

	doc, err := configtx.Load(d.layout.ConfigFile())
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	org, ok := doc.Organization(mspID)
	if !ok {
		return nil, errdefs.Adapter(op, nil, errors.Errorf("organization %s is not defined in %s", mspID, d.layout.ConfigFile()))
	}
	group, err := d.orgGroup(org)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}

	var buf bytes.Buffer
	if err := protolator.DeepMarshalJSON(&buf, &peerext.DynamicApplicationOrgGroup{ConfigGroup: group}); err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "error encoding output"))
	}
	if err := os.MkdirAll(filepath.Dir(cache), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create orgs directory")
	}
	if err := os.WriteFile(cache, buf.Bytes(), 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", cache)
	}
	return buf.Bytes(), nil
}

func (d *NativeDescriber) GenerateSystemGenesis(ctx context.Context, profile, channelID, output string) ([]byte, error) {
	return d.fallback.GenerateSystemGenesis(ctx, profile, channelID, output)
}

func (d *NativeDescriber) GenerateChannelTx(ctx context.Context, profile, channelID, output string) error {
	return d.fallback.GenerateChannelTx(ctx, profile, channelID, output)
}

func (d *NativeDescriber) orgGroup(org *configtx.Organization) (*cb.ConfigGroup, error) {
	if len(org.Policies) == 0 {
		return nil, errors.Errorf("organization %s has no policies defined", org.Name)
	}
	mspDir := org.MSPDir
	if !filepath.IsAbs(mspDir) {
		mspDir = filepath.Join(d.layout.Root, mspDir)
	}
	dir, err := msp.LoadDir(mspDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load MSP of %s", org.Name)
	}
	roots, err := cert.ParseCertificates(bytes.Join(dir.RootCerts, []byte("\n")))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse root certificates of %s", org.Name)
	}

	policies := make(map[string]fabricconfig.Policy, len(org.Policies))
	for name, p := range org.Policies {
		policies[name] = fabricconfig.Policy{Type: p.Type, Rule: p.Rule}
	}
	var anchors []fabricconfig.Address
	for _, ap := range org.AnchorPeers {
		anchors = append(anchors, fabricconfig.Address{Host: ap.Host, Port: ap.Port})
	}

	c := fabricconfig.New(&cb.Config{ChannelGroup: &cb.ConfigGroup{
		Groups: map[string]*cb.ConfigGroup{
			fabricconfig.ApplicationGroupKey: {
				Groups:   map[string]*cb.ConfigGroup{},
				Values:   map[string]*cb.ConfigValue{},
				Policies: map[string]*cb.ConfigPolicy{},
			},
		},
		Values:   map[string]*cb.ConfigValue{},
		Policies: map[string]*cb.ConfigPolicy{},
	}})
	err = c.Application().SetOrganization(fabricconfig.Organization{
		Name:        org.Name,
		Policies:    policies,
		MSP:         fabricconfig.MSP{Name: org.ID, RootCerts: roots},
		AnchorPeers: anchors,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build config group of %s", org.Name)
	}
	group := c.UpdatedConfig().ChannelGroup.Groups[fabricconfig.ApplicationGroupKey].Groups[org.Name]
	if group == nil {
		return nil, errors.Errorf("config group of %s was not created", org.Name)
	}
	group.ModPolicy = adminsPolicy
	for _, p := range group.Policies {
		p.ModPolicy = adminsPolicy
	}

	// the MSP value carries the directory's PEM bytes and NodeOUs verbatim
	fabricConf, err := proto.Marshal(dir.FabricConfig(org.ID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal MSP config")
	}
	value, err := proto.Marshal(&mspproto.MSPConfig{Type: 0, Config: fabricConf})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal MSP value")
	}
	group.Values["MSP"] = &cb.ConfigValue{Value: value, ModPolicy: adminsPolicy}
	return group, nil
}
