package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressors(t *testing.T) {
	payload := []byte(`{"title":"The Long Night","chapters":[` + strings.Repeat(`{"id":"c","scenes":[]},`, 50) + `{}]}`)

	for _, name := range []string{NameNone, NameGZip, NameBrotli, NameLZ4} {
		t.Run(name, func(t *testing.T) {
			c, err := New(name)
			require.NoError(t, err)

			encoded, err := c.Encode(payload)
			require.NoError(t, err)
			if name != NameNone {
				assert.Less(t, len(encoded), len(payload))
			}

			decoded, err := c.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("zstd")
	assert.Error(t, err)
}
