package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"diskbrowser/pkg/types"
)

const (
	recordPrefix = "record:"
	aclPrefix    = "acl:"
)

// PersistentStore keeps virtual-disk records and ACL rules in BadgerDB
type PersistentStore struct {
	db *badger.DB
}

// New opens (or creates) a store in dataDir
func New(dataDir string) (*PersistentStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	return open(badger.DefaultOptions(dataDir))
}

// NewInMemory opens a store that lives only as long as the process
func NewInMemory() (*PersistentStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*PersistentStore, error) {
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &PersistentStore{
		db: db,
	}, nil
}

func (s *PersistentStore) Close() error {
	return s.db.Close()
}

func (s *PersistentStore) SetRecord(record *types.FileRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+record.Path), data)
	})
}

func (s *PersistentStore) DeleteRecord(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(recordPrefix + path))
	})
}

// GetAllRecords returns every record in key order
func (s *PersistentStore) GetAllRecords() ([]types.FileRecord, error) {
	var records []types.FileRecord

	err := s.iterate(recordPrefix, func(val []byte) error {
		var record types.FileRecord
		if err := json.Unmarshal(val, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get all records: %w", err)
	}

	return records, nil
}

// GetACLRules returns the persisted rule table in evaluation order
func (s *PersistentStore) GetACLRules() ([]types.ACLRule, error) {
	var rules []types.ACLRule

	err := s.iterate(aclPrefix, func(val []byte) error {
		var rule types.ACLRule
		if err := json.Unmarshal(val, &rule); err != nil {
			return err
		}
		rules = append(rules, rule)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get acl rules: %w", err)
	}

	return rules, nil
}

// SetACLRules replaces the whole rule table in one transaction.
// Keys are zero-padded indexes so iteration order is table order.
func (s *PersistentStore) SetACLRules(rules []types.ACLRule) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		iter := txn.NewIterator(opts)

		var stale [][]byte
		prefix := []byte(aclPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			stale = append(stale, iter.Item().KeyCopy(nil))
		}
		iter.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		for i, rule := range rules {
			data, err := json.Marshal(rule)
			if err != nil {
				return fmt.Errorf("failed to marshal acl rule: %w", err)
			}
			if err := txn.Set([]byte(fmt.Sprintf("%s%08d", aclPrefix, i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PersistentStore) iterate(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		iter := txn.NewIterator(opts)
		defer iter.Close()

		p := []byte(prefix)
		for iter.Seek(p); iter.ValidForPrefix(p); iter.Next() {
			if err := iter.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
