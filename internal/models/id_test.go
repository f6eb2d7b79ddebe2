package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobID_Unique(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 26)
}

func TestParseJobID(t *testing.T) {
	valid := NewJobID()

	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"canonical", valid.String(), true},
		{"empty", "", false},
		{"wrong length", "01HZX", false},
		{"invalid characters", "01HZXAAAAAAAAAAAAAAAAAAAAU", false},
		{"path traversal", "../../../../etc/passwd1234", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseJobID(tt.input)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidJobID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, valid, id)
		})
	}
}

func TestJobID_Scan(t *testing.T) {
	id := NewJobID()

	tests := []struct {
		name    string
		input   any
		want    JobID
		wantErr bool
	}{
		{"nil", nil, JobID{}, false},
		{"string", id.String(), id, false},
		{"bytes", []byte(id.String()), id, false},
		{"empty string", "", JobID{}, false},
		{"garbage", "nope", JobID{}, true},
		{"int", 7, JobID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got JobID
			err := got.Scan(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobID_Value(t *testing.T) {
	v, err := JobID{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	id := NewJobID()
	v, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)
}

func TestJobID_JSONMapKey(t *testing.T) {
	id := NewJobID()
	data, err := json.Marshal(map[JobID]string{id: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"`+id.String()+`":"x"}`, string(data))

	var back map[JobID]string
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "x", back[id])

	var bad JobID
	assert.ErrorIs(t, json.Unmarshal([]byte(`"nope"`), &bad), ErrInvalidJobID)
}

func TestSecret_Equal(t *testing.T) {
	s := Secret("f47ac10b")
	assert.True(t, s.Equal("f47ac10b"))
	assert.False(t, s.Equal("f47ac10c"))
	assert.False(t, s.Equal(""))
	assert.False(t, Secret("").Equal(""))
}
