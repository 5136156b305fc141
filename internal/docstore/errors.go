package docstore

import "errors"

// Ошибки хранилища документов
var (
	// ErrNotFound документ не найден
	ErrNotFound = errors.New("document not found")
)
