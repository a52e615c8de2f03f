package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
		epsilon  float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0.0, 1e-9},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 1.0, 1e-9},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, 2.0, 1e-9},
		{"zero vector a", []float32{0, 0, 0}, []float32{1, 0, 0}, 1.0, 1e-9},
		{"zero vector b", []float32{1, 0, 0}, []float32{0, 0, 0}, 1.0, 1e-9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, tt.epsilon)
		})
	}
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)

	norm := math.Sqrt(float64(out[0])*float64(out[0]) + float64(out[1])*float64(out[1]))
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestNormalizeZero(t *testing.T) {
	out := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, out)
}

func TestDotProduct(t *testing.T) {
	assert.InDelta(t, 32.0, DotProduct([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-9)
}
