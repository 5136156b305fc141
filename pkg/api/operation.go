package api

// OperationKind определяет вид CRDT операции.
type OperationKind string

const (
	// OpInsert вставка символа
	OpInsert OperationKind = "Insert"
	// OpDelete удаление символа (tombstone)
	OpDelete OperationKind = "Delete"
	// OpFormat изменение атрибутов форматирования
	OpFormat OperationKind = "Format"
)

// Character представляет wire-форму CRDT символа.
// Идентификаторы сериализуются как строка "site:clock".
type Character struct {
	ID         string         `json:"id"`
	Value      string         `json:"value"`
	PrevID     string         `json:"prevId"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Deleted    bool           `json:"deleted"`
}

// Operation представляет wire-форму CRDT операции.
// Character заполняется для Insert, TargetID для Delete/Format,
// Attributes для Format.
type Operation struct {
	Kind       OperationKind  `json:"kind"`
	Character  *Character     `json:"character,omitempty"`
	TargetID   string         `json:"targetId,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	SiteID     string         `json:"siteId"`
	DocumentID string         `json:"documentId"`
	Clock      uint64         `json:"clock"`
	Timestamp  int64          `json:"timestamp"`
}
