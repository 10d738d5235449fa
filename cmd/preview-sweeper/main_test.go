package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(t *testing.T, inner string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"message": map[string]any{"data": []byte(inner)},
	})
	require.NoError(t, err)
	return data
}

func TestRequestedRetention(t *testing.T) {
	week := 7 * 24 * time.Hour
	tests := []struct {
		name    string
		data    []byte
		want    time.Duration
		wantErr bool
	}{
		{"no data", nil, week, false},
		{"empty message", event(t, ""), week, false},
		{"plain text body", event(t, "sweep"), week, false},
		{"override", event(t, `{"retention":"48h"}`), 48 * time.Hour, false},
		{"empty override", event(t, `{}`), week, false},
		{"bad duration", event(t, `{"retention":"soon"}`), 0, true},
		{"negative", event(t, `{"retention":"-1h"}`), 0, true},
		{"not json", []byte("garbage"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requestedRetention(tt.data, week)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
