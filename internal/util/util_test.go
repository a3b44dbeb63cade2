package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	for _, name := range []string{"A", "ALICE", "ZZZZ"} {
		assert.NoError(t, ValidateUsername(name), name)
	}
	for _, name := range []string{"", "alice", "ALICE1", "AL ICE", "ÀLICE",
		"ABCDEFGHIJKLMNOPQRSTUVWXY"} {
		assert.Error(t, ValidateUsername(name), name)
	}
}

func TestRingBuffer(t *testing.T) {
	r := NewRingBuffer[int](3)
	assert.Equal(t, 3, r.Cap())
	assert.Zero(t, r.Len())

	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{1, 2}, r.Snapshot())

	r.Push(3)
	r.Push(4) // evicts 1
	assert.Equal(t, []int{2, 3, 4}, r.Snapshot())
	assert.Equal(t, 3, r.Len())

	assert.Equal(t, []int{3, 4}, r.Last(2))
	assert.Equal(t, []int{2, 3, 4}, r.Last(10))
}
