package scanline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredictPaeth(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c int
		want    int
	}{
		{"AllZero", 0, 0, 0, 0},
		{"FlatLeft", 10, 20, 20, 10},
		{"FlatUp", 20, 10, 20, 10},
		{"Corner", 10, 10, 20, 10},
		{"PickCorner", 100, 120, 110, 110},
		{"TieLeft", 5, 5, 5, 5},
		{"TieUpOverCorner", 6, 0, 4, 0},
		{"Max", 255, 255, 255, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PredictPaeth(tt.a, tt.b, tt.c))
		})
	}
}

func TestPredictAverage(t *testing.T) {
	assert.Equal(t, 0, PredictAverage(0, 1))
	assert.Equal(t, 254, PredictAverage(253, 255))
	assert.Equal(t, 255, PredictAverage(255, 255))
}
