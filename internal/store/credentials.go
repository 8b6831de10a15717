// Package store persists the paymaster API credential across sessions in a
// single key-value slot.
package store

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

var credentialKey = []byte("paymaster_api_key")

// CredentialStore is a badger-backed single-slot store. It holds exactly one
// value: the paymaster API credential.
type CredentialStore struct {
	db *badger.DB
}

// Open creates or opens the store at dir.
func Open(dir string) (*CredentialStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open credential store")
	}

	return &CredentialStore{db: db}, nil
}

// Get returns the persisted credential and whether one was present.
func (s *CredentialStore) Get() (string, bool, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(credentialKey)
		if err != nil {
			return err
		}

		return item.Value(func(v []byte) error {
			value = string(v)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "read credential")
	}

	return value, true, nil
}

// Put overwrites the persisted credential.
func (s *CredentialStore) Put(value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(credentialKey, []byte(value))
	})

	return errors.Wrap(err, "write credential")
}

// Delete removes the persisted credential. Deleting an absent value is not
// an error.
func (s *CredentialStore) Delete() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(credentialKey)
	})

	return errors.Wrap(err, "delete credential")
}

func (s *CredentialStore) Close() error {
	return s.db.Close()
}
