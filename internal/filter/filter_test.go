package filter

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncompressibleEmpty(t *testing.T) {
	assert.False(t, Incompressible(nil))
	assert.False(t, Incompressible([]byte{}))
}

func TestIncompressibleRepeatedText(t *testing.T) {
	value := []byte(strings.Repeat("feed-item-payload\n", 200))
	assert.False(t, Incompressible(value))
}

func TestIncompressibleRandomBytes(t *testing.T) {
	value := make([]byte, 4096)
	_, err := rand.Read(value)
	assert.NoError(t, err)
	assert.True(t, Incompressible(value))
}

func TestIncompressibleSingleByte(t *testing.T) {
	value := []byte{0x42}
	// A single repeated byte has zero entropy, nowhere near the threshold.
	assert.False(t, Incompressible(value))
}
