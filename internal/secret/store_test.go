package secret

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestNewStoreKeyLength(t *testing.T) {
	_, err := NewStore(nil, []byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")

	store, err := NewStore(nil, testKey)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestSealOpenRoundTrip(t *testing.T) {
	store, err := NewStore(nil, testKey)
	require.NoError(t, err)

	plaintext := []byte(`{"token": "tok-123"}`)
	sealed, err := store.seal(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "tok-123")

	opened, err := store.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealUsesFreshNonce(t *testing.T) {
	store, err := NewStore(nil, testKey)
	require.NoError(t, err)

	first, err := store.seal([]byte("same"))
	require.NoError(t, err)
	second, err := store.seal([]byte("same"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(first, second))
}

func TestOpenRejectsTampering(t *testing.T) {
	store, err := NewStore(nil, testKey)
	require.NoError(t, err)

	sealed, err := store.seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = store.open(sealed)
	require.Error(t, err)
}

func TestOpenRejectsTruncatedCiphertext(t *testing.T) {
	store, err := NewStore(nil, testKey)
	require.NoError(t, err)

	_, err = store.open([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")
}

func TestOpenWrongKey(t *testing.T) {
	store, err := NewStore(nil, testKey)
	require.NoError(t, err)
	other, err := NewStore(nil, []byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	sealed, err := store.seal([]byte("payload"))
	require.NoError(t, err)
	_, err = other.open(sealed)
	require.Error(t, err)
}

func TestUpsertRequiresIdentity(t *testing.T) {
	store, err := NewStore(nil, testKey)
	require.NoError(t, err)

	err = store.Upsert(context.Background(), Input{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")

	err = store.Upsert(context.Background(), Input{ID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestNopResolver(t *testing.T) {
	values, err := NopResolver{}.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, values)
}
