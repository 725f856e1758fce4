package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionIdGeneration(t *testing.T) {
	sessionId := GenerateSessionId()
	// each byte is represented by 2 hex characters so length will be doubled
	require.Len(t, sessionId, 32)
	require.NotEqual(t, sessionId, GenerateSessionId())
}
