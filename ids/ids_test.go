package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducesCanonicalV4(t *testing.T) {
	id := New()
	assert.True(t, IsV4(id), "generated id %q must be a canonical v4 uuid", id)
}

func TestIsV4RejectsOtherVersions(t *testing.T) {
	assert.False(t, IsV4("not-a-uuid"))
	assert.False(t, IsV4("00000000-0000-1000-8000-000000000000")) // v1
	assert.True(t, IsV4("00000000-0000-4000-8000-000000000000"))
}

func TestIsTimestamp(t *testing.T) {
	assert.True(t, IsTimestamp(NowTimestamp()))
	assert.False(t, IsTimestamp("2024-01-01"))
	assert.False(t, IsTimestamp("2024-01-01T00:00:00Z"))
}
