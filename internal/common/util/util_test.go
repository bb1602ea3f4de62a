package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_SortsByCreation(t *testing.T) {
	first := NewULID()
	second := NewULID()
	assert.Len(t, first, 26)
	assert.Less(t, first, second)
}

func TestULIDTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	created, err := ULIDTime(NewULID())
	require.NoError(t, err)
	assert.True(t, created.After(before))

	_, err = ULIDTime("not-a-ulid")
	assert.Error(t, err)
}

func TestTabbedStringBuilder(t *testing.T) {
	w := NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	w.Writef("a:\t%s\n", "b")
	w.Row("ccc:", 2)
	assert.Equal(t, "a:   b\nccc: 2\n", w.String())
}
