package graphcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampWeightEnforcesRange(t *testing.T) {
	assert.Equal(t, 1.0, clampWeight(-5))
	assert.Equal(t, 1.0, clampWeight(0))
	assert.Equal(t, 255.0, clampWeight(9999))
	assert.Equal(t, 42.0, clampWeight(42))
}

func TestQuantizedWeightRoundsToNearestByte(t *testing.T) {
	e := &Edge{weight: 2.4}
	assert.Equal(t, uint8(2), e.QuantizedWeight())
	e.weight = 2.6
	assert.Equal(t, uint8(3), e.QuantizedWeight())
}

func TestMarkForDeletionIsIdempotent(t *testing.T) {
	e := &Edge{}
	e.markForDeletion()
	e.markForDeletion()
	assert.True(t, e.MarkedForDeletion())
}
