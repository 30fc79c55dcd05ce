package main

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCombine(t *testing.T) {
	secret := []byte("owner data encryption key")
	shares, err := splitSecret(secret)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	got, err := combineShares([]string{shares[2], shares[0], shares[1]})
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestCombine_NeedsAllThree(t *testing.T) {
	shares, err := splitSecret([]byte("k"))
	require.NoError(t, err)

	_, err = combineShares(shares[:2])
	assert.ErrorContains(t, err, "need exactly 3 shares")

	_, err = combineShares([]string{shares[0], shares[1], "%%%"})
	assert.ErrorContains(t, err, "share 3 is not base64")
}

func TestSplit_Empty(t *testing.T) {
	_, err := splitSecret(nil)
	assert.Error(t, err)
}

func TestNewMasterKey(t *testing.T) {
	k, err := newMasterKey()
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(k)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
