package errdefs

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestConflict(t *testing.T) {
	err := Conflict("organization", "OrgCMSP", "channel devchannel")
	assert.EqualError(t, err, "organization OrgCMSP already exists in channel devchannel")
	assert.EqualError(t, Conflict("consortium", "Dev", ""), "consortium Dev already exists")

	wrapped := errors.Wrap(err, "modify")
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsTopology(wrapped))
}

func TestTopology(t *testing.T) {
	err := TopologyNotFound("Org: %s is invalid", "orgZ")
	assert.True(t, IsTopology(err))
	assert.True(t, IsNotFound(err))
	assert.EqualError(t, err, "Org: orgZ is invalid: not found")

	err = Topology("ambiguous target")
	assert.False(t, IsNotFound(err))
}

func TestRemoteExecutionError(t *testing.T) {
	err := &RemoteExecutionError{
		Host:       "10.0.0.1",
		Command:    "docker exec peer-cli0 peer channel fetch config",
		ExitStatus: 1,
		Stderr:     "Error: no such channel\n",
	}
	assert.Equal(t, "[10.0.0.1] command failed (exit 1): docker exec peer-cli0 peer channel fetch config\nstderr: Error: no such channel", err.Error())
	assert.True(t, IsRemote(fmt.Errorf("fetch: %w", err)))
}

func TestStageError(t *testing.T) {
	cause := Adapter("compute_update", []byte("no differences detected\n"), errors.New("exit status 1"))
	err := errors.Wrap(&StageError{Stage: "diff", Artifact: "OrgCMSP_updated.pb", Err: cause}, "run")

	assert.Equal(t, "diff", StageOf(err))
	assert.True(t, IsAdapter(err))
	assert.Contains(t, err.Error(), "stage diff failed producing OrgCMSP_updated.pb: compute_update failed: exit status 1\nno differences detected")
	assert.Equal(t, "", StageOf(cause))
}
