package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepo(t *testing.T) {
	r, err := ParseRepo(" roach88/wfprobe-sandbox ")
	require.NoError(t, err)
	assert.Equal(t, Repo{Owner: "roach88", Name: "wfprobe-sandbox"}, r)
	assert.Equal(t, "roach88/wfprobe-sandbox", r.String())

	for _, bad := range []string{"", "noslash", "/name", "owner/", "a/b/c"} {
		_, err := ParseRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestIssue_HasLabel(t *testing.T) {
	is := &Issue{Labels: []string{"Automated-Test", "bug"}}
	assert.True(t, is.HasLabel("automated-test"))
	assert.False(t, is.HasLabel("feature"))
}
