package models

import "time"

// OperationKind определяет вид CRDT операции.
type OperationKind string

const (
	OpInsert OperationKind = "Insert"
	OpDelete OperationKind = "Delete"
	OpFormat OperationKind = "Format"
)

// Operation представляет единицу репликации.
// Несет достаточно информации, чтобы быть примененной ровно один раз
// и безопасно примененной повторно (идемпотентность проверяет документ).
type Operation struct {
	Kind       OperationKind
	Character  *CharacterNode // заполнен для Insert
	TargetID   Identifier     // заполнен для Delete/Format
	Attributes map[string]any // заполнен для Format
	SiteID     string
	DocumentID string
	Clock      uint64
	Timestamp  int64
}

// NewInsertOp создает операцию вставки символа.
func NewInsertOp(character *CharacterNode, siteID string, clock uint64, documentID string) *Operation {
	return &Operation{
		Kind:       OpInsert,
		Character:  character,
		SiteID:     siteID,
		Clock:      clock,
		DocumentID: documentID,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewDeleteOp создает операцию удаления (установку tombstone).
func NewDeleteOp(targetID Identifier, siteID string, clock uint64, documentID string) *Operation {
	return &Operation{
		Kind:       OpDelete,
		TargetID:   targetID,
		SiteID:     siteID,
		Clock:      clock,
		DocumentID: documentID,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewFormatOp создает операцию изменения атрибутов.
func NewFormatOp(targetID Identifier, attrs map[string]any, siteID string, clock uint64, documentID string) *Operation {
	return &Operation{
		Kind:       OpFormat,
		TargetID:   targetID,
		Attributes: attrs,
		SiteID:     siteID,
		Clock:      clock,
		DocumentID: documentID,
		Timestamp:  time.Now().UnixMilli(),
	}
}
