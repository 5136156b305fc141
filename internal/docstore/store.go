package docstore

import (
	"context"
	"time"
)

// Document представляет снапшот содержимого документа во внешнем
// хранилище. Content хранится в delta-форме (JSON) либо как plain text,
// разбором занимается потребитель.
type Document struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Store определяет интерфейс хранилища документов, потребляемого
// слоем коллаборации: загрузка содержимого при bootstrap комнаты
// и сохранение при ее опустошении.
type Store interface {
	// Fetch возвращает документ по ID. Отсутствие документа — ErrNotFound.
	Fetch(ctx context.Context, documentID, userID string) (*Document, error)
	// Update сохраняет новое содержимое документа от имени пользователя.
	Update(ctx context.Context, documentID, content, userID string) error
}
