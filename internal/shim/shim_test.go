package shim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ownerrez-proxy-go/internal/model"
)

func TestSpotRateItems(t *testing.T) {
	got, err := SpotRateItems([]byte(`{"items":[{"property_id":1,"date":"2024-01-01","amount":100}]}`))
	require.NoError(t, err)
	assert.Equal(t, `[{"property_id":1,"date":"2024-01-01","amount":100}]`, string(got))
}

func TestSpotRateItems_PreservesFormatting(t *testing.T) {
	got, err := SpotRateItems([]byte(`{"note":"x", "items": [ {"property_id": 2}, {"property_id": 3} ] }`))
	require.NoError(t, err)
	assert.Equal(t, `[ {"property_id": 2}, {"property_id": 3} ]`, string(got))
}

func TestSpotRateItems_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"empty items", `{"items":[]}`},
		{"items not array", `{"items":{"property_id":1}}`},
		{"items null", `{"items":null}`},
		{"bare array", `[{"property_id":1}]`},
		{"not json", `items=1`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SpotRateItems([]byte(tt.body))
			assert.ErrorIs(t, err, model.ErrInvalidBody)
		})
	}
}
