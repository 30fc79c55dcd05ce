package escrow

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deadlock-vault/internal/domain"
	"github.com/hashicorp/vault/shamir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, keySize)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func splitSecret(t *testing.T) []string {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	parts, err := shamir.Split(secret, 3, 3)
	require.NoError(t, err)

	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = base64.StdEncoding.EncodeToString(p)
	}
	return out
}

func TestSealSet_RevealRoundTrip(t *testing.T) {
	e, err := New(randomKey(t))
	require.NoError(t, err)

	shares := splitSecret(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	set, err := e.SealSet(shares, now)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Threshold)
	assert.Equal(t, 3, set.TotalShares)
	require.Len(t, set.Fragments, 3)

	for i, f := range set.Fragments {
		assert.Equal(t, i+1, f.ShareID)
		assert.Equal(t, now, f.StoredAt)
		assert.True(t, strings.HasPrefix(f.EncryptedShare, prefix))
		assert.NotContains(t, f.EncryptedShare, shares[i])

		plain, err := e.Reveal(f.EncryptedShare)
		require.NoError(t, err)
		assert.Equal(t, shares[i], plain)
	}
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	e, err := New(randomKey(t))
	require.NoError(t, err)

	a, err := e.Seal("same")
	require.NoError(t, err)
	b, err := e.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestReveal_WrongKeyFails(t *testing.T) {
	e1, err := New(randomKey(t))
	require.NoError(t, err)
	e2, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := e1.Seal("share-one")
	require.NoError(t, err)

	_, err = e2.Reveal(sealed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEscrow))
}

func TestReveal_TamperedPayloadFails(t *testing.T) {
	e, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := e.Seal("share-one")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := prefix + base64.StdEncoding.EncodeToString(raw)

	_, err = e.Reveal(tampered)
	assert.True(t, errors.Is(err, domain.ErrEscrow))

	for _, bad := range []string{"", "plaintext", prefix + "!!!", prefix + "AAAA"} {
		_, err = e.Reveal(bad)
		assert.True(t, errors.Is(err, domain.ErrEscrow), bad)
	}
}

func TestMissingKeyFailsClosed(t *testing.T) {
	e, err := New("  ")
	require.NoError(t, err)
	assert.False(t, e.Configured())

	_, err = e.Seal("x")
	assert.True(t, errors.Is(err, domain.ErrEscrow))
	_, err = e.Reveal(prefix + "AAAA")
	assert.True(t, errors.Is(err, domain.ErrEscrow))
	_, err = e.SealSet([]string{"a", "b", "c"}, time.Now())
	assert.True(t, errors.Is(err, domain.ErrEscrow))
}

func TestSealSet_Validation(t *testing.T) {
	e, err := New(randomKey(t))
	require.NoError(t, err)

	cases := map[string][]string{
		"none":      nil,
		"two":       {"a", "b"},
		"four":      {"a", "b", "c", "d"},
		"blank one": {"a", "  ", "c"},
	}
	for name, shares := range cases {
		_, err := e.SealSet(shares, time.Now())
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, domain.ErrBadRequest), name)
	}
}

func TestSealSet_TrimsShares(t *testing.T) {
	e, err := New(randomKey(t))
	require.NoError(t, err)

	set, err := e.SealSet([]string{" a ", "b\n", "\tc"}, time.Now())
	require.NoError(t, err)
	for i, want := range []string{"a", "b", "c"} {
		got, err := e.Reveal(set.Fragments[i].EncryptedShare)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNew_KeyEncodings(t *testing.T) {
	raw := make([]byte, keySize)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	b64, err := New(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	hx, err := New(hex.EncodeToString(raw))
	require.NoError(t, err)

	sealed, err := b64.Seal("interop")
	require.NoError(t, err)
	got, err := hx.Reveal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "interop", got)

	p1, err := New("correct horse battery staple")
	require.NoError(t, err)
	p2, err := New("correct horse battery staple")
	require.NoError(t, err)
	sealed, err = p1.Seal("derived")
	require.NoError(t, err)
	got, err = p2.Reveal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "derived", got)
}
