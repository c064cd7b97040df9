package kvstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	*MemoryBackend
	err error
}

func (b failingBackend) Write(string, []byte) error { return b.err }
func (b failingBackend) Read(string) ([]byte, error) {
	return nil, b.err
}

func TestStoreRoundTripsValues(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil)

	require.True(t, store.Set(KeyWorkstationName, "istasyon-1"))
	var name string
	require.True(t, store.Get(KeyWorkstationName, &name))
	require.Equal(t, "istasyon-1", name)

	require.True(t, store.Set(TableKey("stock"), []map[string]any{{"code": "A1"}}))
	var rows []map[string]any
	require.True(t, store.Get("proclean_stock", &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "A1", rows[0]["code"])
}

func TestStoreGetMissingKey(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil)
	var value string
	require.False(t, store.Get("absent", &value))
	require.Empty(t, value)
}

func TestStoreGetCorruptValueReportsFalse(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Write(KeyOfflineData, []byte("{not json")))
	store := NewStore(backend, nil)

	var snapshot map[string]any
	require.False(t, store.Get(KeyOfflineData, &snapshot))
}

func TestStoreSwallowsBackendFailures(t *testing.T) {
	store := NewStore(failingBackend{MemoryBackend: NewMemoryBackend(), err: errors.New("quota exceeded")}, nil)

	require.False(t, store.Set("key", "value"))
	var value string
	require.False(t, store.Get("key", &value))
}

func TestStoreRejectsUnencodableValue(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil)
	require.False(t, store.Set("channel", make(chan int)))
}

func TestStoreRemoveAndClear(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil)
	require.True(t, store.Set("a", 1))
	require.True(t, store.Set("b", 2))

	require.True(t, store.Remove("a"))
	var value int
	require.False(t, store.Get("a", &value))
	require.True(t, store.Get("b", &value))
	require.Equal(t, 2, value)

	require.True(t, store.Clear())
	require.False(t, store.Get("b", &value))
}
