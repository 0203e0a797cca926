package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteStream_HasVideoHasAudio_NilSafe(t *testing.T) {
	var nilStream *RemoteStream
	assert.False(t, nilStream.HasVideo())
	assert.False(t, nilStream.HasAudio())

	empty := &RemoteStream{}
	assert.False(t, empty.HasVideo())
	assert.False(t, empty.HasAudio())
}
