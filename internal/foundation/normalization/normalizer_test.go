package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type strategy int

const (
	mobile strategy = iota + 1
	desktop
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer("strategy", map[string]strategy{"mobile": mobile, "Desktop": desktop})

	tests := []struct {
		name  string
		input string
		want  strategy
	}{
		{"exact match", "mobile", mobile},
		{"case insensitive", "MOBILE", mobile},
		{"surrounding spaces", "  desktop ", desktop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := n.Normalize("tablet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[desktop mobile]")
	assert.Equal(t, []string{"desktop", "mobile"}, n.ValidKeys())
}

func TestApplyRewritesField(t *testing.T) {
	n := Strings("styles.output_style", "compressed", "expanded")

	field := " Expanded"
	require.NoError(t, n.Apply(&field))
	assert.Equal(t, "expanded", field)

	field = "compact"
	require.Error(t, n.Apply(&field))
	assert.Equal(t, "compact", field)
}
