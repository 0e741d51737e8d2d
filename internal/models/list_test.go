package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoEventRequest_SingleValuesBecomeLists(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		keys   []string
		speeds []float64
		sounds []string
	}{
		{"arrays", `{"keys":["a","b"],"speeds":[1,1.5],"soundStates":["muted"]}`, []string{"a", "b"}, []float64{1, 1.5}, []string{"muted"}},
		{"single values", `{"keys":"k","speeds":1.5,"soundStates":"unmuted"}`, []string{"k"}, []float64{1.5}, []string{"unmuted"}},
		{"null and absent", `{"keys":null}`, nil, nil, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req VideoEventRequest
			require.NoError(t, json.Unmarshal([]byte(tc.body), &req))
			assert.Equal(t, tc.keys, []string(req.Keys))
			assert.Equal(t, tc.speeds, []float64(req.Speeds))
			assert.Equal(t, tc.sounds, []string(req.SoundStates))
		})
	}
}

func TestVideoEventRequest_RejectsWrongScalarType(t *testing.T) {
	var req VideoEventRequest
	assert.Error(t, json.Unmarshal([]byte(`{"speeds":"fast"}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"keys":{"a":1}}`), &req))
}
