package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouliraj56/webSerial-modbus/pkg/traffic"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "traffic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestArchiveAndRecent(t *testing.T) {
	store := newTestStore(t)

	log := traffic.NewLog(16)
	log.RecordTx([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	log.RecordRx([]byte{0x01, 0x03, 0x02, 0x00, 0x2A})
	log.RecordError(errors.New("bus: response timeout"))

	require.NoError(t, store.Archive(log.ExportDocument()))

	entries, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, traffic.KindError, entries[0].Kind)
	assert.Equal(t, traffic.KindRx, entries[1].Kind)
	assert.Equal(t, traffic.KindTx, entries[2].Kind)
	assert.Equal(t, "bus: response timeout", entries[0].Detail)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	log := traffic.NewLog(16)
	log.RecordTx([]byte{0x01, 0x06, 0x00, 0x09, 0x00, 0x2A})
	doc := log.ExportDocument()

	require.NoError(t, store.Archive(doc))
	require.NoError(t, store.Archive(doc))

	entries, err := store.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// A later export overlapping the first only adds the new entries.
	log.RecordRx([]byte{0x01, 0x06, 0x00, 0x09, 0x00, 0x2A})
	require.NoError(t, store.Archive(log.ExportDocument()))

	entries, err = store.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRecentHonorsLimit(t *testing.T) {
	store := newTestStore(t)

	log := traffic.NewLog(16)
	for i := 0; i < 5; i++ {
		log.RecordTx([]byte{0x01, 0x03, byte(i)})
	}
	require.NoError(t, store.Archive(log.ExportDocument()))

	entries, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Greater(t, entries[0].Seq, entries[1].Seq)
}
