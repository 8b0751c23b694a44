package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskbrowser/pkg/types"
)

// recordAt returns the stored record for p, or nil.
func recordAt(t *testing.T, store *PersistentStore, p string) *types.FileRecord {
	t.Helper()
	all, err := store.GetAllRecords()
	require.NoError(t, err)
	for i := range all {
		if all[i].Path == p {
			return &all[i]
		}
	}
	return nil
}

func TestPersistentStore_Records(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	record := &types.FileRecord{
		Path:       "docs/report.pdf",
		Type:       types.TypeFile,
		Size:       2048,
		Timestamp:  1700000000,
		Visibility: types.VisibilityPrivate,
	}
	require.NoError(t, store.SetRecord(record))

	retrieved := recordAt(t, store, record.Path)
	require.NotNil(t, retrieved)
	assert.Equal(t, *record, *retrieved)

	assert.Nil(t, recordAt(t, store, "nope"))

	record.Size = 4096
	require.NoError(t, store.SetRecord(record))
	all, err := store.GetAllRecords()
	require.NoError(t, err)
	require.Len(t, all, 1, "setting a record again replaces it")
	assert.Equal(t, int64(4096), all[0].Size)
}

func TestPersistentStore_GetAllRecords(t *testing.T) {
	store, err := NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	records := []*types.FileRecord{
		{Path: "b.txt", Type: types.TypeFile, Size: 1},
		{Path: "a/c.txt", Type: types.TypeFile, Size: 2},
		{Path: "empty", Type: types.TypeDir},
	}
	for _, r := range records {
		require.NoError(t, store.SetRecord(r))
	}

	all, err := store.GetAllRecords()
	require.NoError(t, err)
	require.Len(t, all, 3)
	// key order
	assert.Equal(t, "a/c.txt", all[0].Path)
	assert.Equal(t, "b.txt", all[1].Path)
	assert.Equal(t, "empty", all[2].Path)
}

func TestPersistentStore_DeleteRecord(t *testing.T) {
	store, err := NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetRecord(&types.FileRecord{Path: "tmp/file.txt", Type: types.TypeFile}))
	require.NoError(t, store.DeleteRecord("tmp/file.txt"))

	assert.Nil(t, recordAt(t, store, "tmp/file.txt"))
}

func TestPersistentStore_ACLRules(t *testing.T) {
	store, err := NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	rules := make([]types.ACLRule, 0, 12)
	for i := 0; i < 12; i++ {
		rules = append(rules, types.ACLRule{Disk: "public", Path: string(rune('a'+i)) + "/**", Access: i % 3})
	}
	require.NoError(t, store.SetACLRules(rules))

	got, err := store.GetACLRules()
	require.NoError(t, err)
	assert.Equal(t, rules, got, "rule order must survive persistence")

	require.NoError(t, store.SetACLRules(rules[:2]))
	got, err = store.GetACLRules()
	require.NoError(t, err)
	assert.Equal(t, rules[:2], got, "replacing the table drops stale rules")
}

func TestPersistentStore_Persistence(t *testing.T) {
	tempDir := t.TempDir()

	store1, err := New(tempDir)
	require.NoError(t, err)

	record := &types.FileRecord{Path: "persistent/file.txt", Type: types.TypeFile, Size: 7}
	require.NoError(t, store1.SetRecord(record))
	require.NoError(t, store1.Close())

	store2, err := New(tempDir)
	require.NoError(t, err)
	defer store2.Close()

	retrieved := recordAt(t, store2, record.Path)
	require.NotNil(t, retrieved)
	assert.Equal(t, *record, *retrieved)
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
