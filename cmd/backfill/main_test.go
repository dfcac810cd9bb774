package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	ids, err := parseIDs("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	ids, err = parseIDs(a.String() + ", " + b.String() + ",")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)

	_, err = parseIDs(a.String() + ",nope")
	assert.ErrorContains(t, err, "nope")
}
