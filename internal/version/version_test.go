package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInfoMatchesGet(t *testing.T) {
	info := Get()
	assert.Equal(t, "dev", info.Version)
	assert.Contains(t, BuildInfo(), "Version: "+info.Version)
	assert.Contains(t, BuildInfo(), "Commit: "+info.Commit)
}
