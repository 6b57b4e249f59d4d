package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostValidate(t *testing.T) {
	h := &Host{Address: "10.0.0.1", User: "ubuntu", Password: "secret"}
	assert.NoError(t, h.Validate())
	assert.Equal(t, "10.0.0.1:22", h.SSHAddress())

	h = &Host{Address: "node1.example.com", User: "ubuntu", KeyFile: "/keys/id_rsa", Port: 2222}
	assert.NoError(t, h.Validate())
	assert.Equal(t, "node1.example.com:2222", h.SSHAddress())

	err := (&Host{Address: "10.0.0.1", Password: "secret"}).Validate()
	assert.EqualError(t, err, "host<10.0.0.1> login user must be provided")

	err = (&Host{Address: "10.0.0.1", User: "ubuntu"}).Validate()
	assert.EqualError(t, err, "host<10.0.0.1> login password or key must be provided")

	assert.Error(t, (&Host{Address: "10.0.0.1", User: "u", Password: "p", Port: 70000}).Validate())
	var nilHost *Host
	assert.Error(t, nilHost.Validate())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Peer-CLI ")
	require.NoError(t, err)
	assert.Equal(t, RolePeerCLI, r)
	assert.True(t, r.IsPeerFamily())
	assert.False(t, RoleOrdererCLI.IsPeerFamily())

	_, err = ParseRole("couchdb")
	assert.ErrorContains(t, err, "zookeeper/kafka/orderer/orderer-cli/peer/peer-cli/explorer")
}
