package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// BoltDB bucket names
var bucketDocuments = []byte("documents")

// BoltStore реализует Store поверх локального BoltDB файла.
// Используется в standalone-режиме, когда внешний document-сервис
// не сконфигурирован, и в тестах.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore открывает (или создает) локальное хранилище документов.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	store := &BoltStore{db: db}

	if err := store.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

// Close закрывает базу.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// initBuckets создает необходимые buckets если они не существуют
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocuments); err != nil {
			return fmt.Errorf("failed to create documents bucket: %w", err)
		}
		return nil
	})
}

// Fetch возвращает документ по ID из bucket documents.
func (s *BoltStore) Fetch(_ context.Context, documentID, _ string) (*Document, error) {
	var doc *Document

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(documentID))
		if data == nil {
			return ErrNotFound
		}

		doc = &Document{}
		if err := json.Unmarshal(data, doc); err != nil {
			return fmt.Errorf("failed to unmarshal document %s: %w", documentID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// Update сохраняет содержимое документа.
func (s *BoltStore) Update(_ context.Context, documentID, content, userID string) error {
	doc := Document{
		ID:        documentID,
		Content:   content,
		UpdatedBy: userID,
		UpdatedAt: time.Now(),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", documentID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDocuments).Put([]byte(documentID), data); err != nil {
			return fmt.Errorf("failed to put document %s: %w", documentID, err)
		}
		return nil
	})
}
