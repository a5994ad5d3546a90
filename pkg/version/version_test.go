package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullJoinsAppNameAndCommit(t *testing.T) {
	full := Full()
	assert.True(t, strings.HasPrefix(full, AppName+"/"))
	assert.NotEmpty(t, GitCommit)
}
