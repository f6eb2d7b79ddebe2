package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"1024", 1024, false},
		{"10GiB", 10 << 30, false},
		{"512MiB", 512 << 20, false},
		{"1GB", 1_000_000_000, false},
		{"1.5 KiB", 1536, false},
		{"", 0, true},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Bytes())
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "10 GiB", ByteSize(10<<30).String())
	assert.Equal(t, "512 B", ByteSize(512).String())
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	var b ByteSize
	require.NoError(t, json.Unmarshal([]byte(`"2MiB"`), &b))
	assert.Equal(t, int64(2<<20), b.Bytes())

	require.NoError(t, json.Unmarshal([]byte(`4096`), &b))
	assert.Equal(t, int64(4096), b.Bytes())
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("1MiB")))
	assert.Equal(t, int64(1<<20), b.Bytes())
	assert.Error(t, b.UnmarshalText([]byte("-")))
}
