package licensekey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	key, err := Generate("FL")
	require.NoError(t, err)

	parts := strings.Split(key, "-")
	require.Len(t, parts, 5)
	assert.Equal(t, "FL", parts[0])
	for _, part := range parts[1:] {
		assert.Len(t, part, 4)
	}
	assert.True(t, ValidateFormat(key, "FL"))
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key, err := Generate("FL")
		require.NoError(t, err)
		_, dup := seen[key]
		require.False(t, dup, "generated a duplicate key: %s", key)
		seen[key] = struct{}{}
	}
}

func TestGenerateNormalizesPrefix(t *testing.T) {
	key, err := Generate(" fl ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "FL-"))

	_, err = Generate("  ")
	assert.Error(t, err)
}

func TestValidateFormat(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		valid bool
	}{
		{"well formed", "FL-AAAA-BBBB-CCCC-DDDD", true},
		{"digits allowed", "FL-1234-5678-9012-3456", true},
		{"empty", "", false},
		{"wrong prefix", "XX-AAAA-BBBB-CCCC-DDDD", false},
		{"missing segment", "FL-AAAA-BBBB-CCCC", false},
		{"extra segment", "FL-AAAA-BBBB-CCCC-DDDD-EEEE", false},
		{"short segment", "FL-AAA-BBBB-CCCC-DDDD", false},
		{"lowercase segment", "FL-aaaa-BBBB-CCCC-DDDD", false},
		{"symbol in segment", "FL-AA!A-BBBB-CCCC-DDDD", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidateFormat(tc.key, "FL"))
		})
	}
}
