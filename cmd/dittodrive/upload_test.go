package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		chunks := split(nil, 4)
		assert.Len(t, chunks, 1)
		assert.Empty(t, chunks[0])
	})

	t.Run("Exact", func(t *testing.T) {
		chunks := split([]byte("abcdefgh"), 4)
		assert.Equal(t, [][]byte{[]byte("abcd"), []byte("efgh")}, chunks)
	})

	t.Run("Remainder", func(t *testing.T) {
		chunks := split([]byte("Hello World"), 5)
		assert.Equal(t, [][]byte{[]byte("Hello"), []byte(" Worl"), []byte("d")}, chunks)
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(assert.AnError))
}
