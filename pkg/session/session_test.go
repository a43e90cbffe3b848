package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestDefault(t *testing.T) {
	assert.NotEmpty(t, Default())
	assert.Equal(t, Default(), Default())
}

func TestLabels(t *testing.T) {
	assert.Nil(t, Labels(""))
	assert.Equal(t, map[string]string{
		LabelManaged:   "true",
		LabelSessionID: "abc",
	}, Labels("abc"))
}
