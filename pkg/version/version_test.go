package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGitCommitNeverEmpty(t *testing.T) {
	// Under `go test` there is usually no vcs.revision, so the fallback
	// applies; either way the value must be usable in version strings.
	assert.NotEmpty(t, GitCommit)
	assert.LessOrEqual(t, len(GitCommit), 8)
}

func TestFull(t *testing.T) {
	full := Full()
	assert.True(t, strings.HasPrefix(full, AppName+"/"), "got %q", full)
	assert.Equal(t, AppName+"/"+GitCommit, full)
}
