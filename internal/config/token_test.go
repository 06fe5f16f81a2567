package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestTokenRoundTrip(t *testing.T) {
	keyring.MockInit()

	assert.Empty(t, LookupToken())
	assert.ErrorIs(t, DeleteToken(), ErrTokenNotFound)

	require.NoError(t, StoreToken("abc123"))
	assert.Equal(t, "abc123", LookupToken())

	require.NoError(t, DeleteToken())
	assert.Empty(t, LookupToken())
}

func TestStoreToken_Empty(t *testing.T) {
	assert.Error(t, StoreToken(""))
}
