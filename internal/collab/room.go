package collab

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/collabdocs/internal/crdt"
	"github.com/iudanet/collabdocs/internal/models"
	"github.com/iudanet/collabdocs/pkg/api"
)

// serverSiteID — site серверной реплики CRDT документа.
// Операции, порожденные трансляцией delta на сервере, идут от этого site.
const serverSiteID = "server"

// Room представляет комнату коллаборации: один CRDT документ плюс
// множество подключенных участников одного логического документа.
type Room struct {
	documentID string
	doc        *crdt.Document
	translator *crdt.Translator
	logger     *slog.Logger

	mu                 sync.RWMutex
	participants       map[string]*models.Participant // key: connection ID
	creatorUserID      string
	createdAt          time.Time
	lastActiveAt       time.Time
	dirty              bool
	contentInitialized bool
}

// NewRoom создает комнату для документа.
func NewRoom(documentID string, logger *slog.Logger) *Room {
	doc := crdt.NewDocument(documentID, serverSiteID)
	now := time.Now()
	return &Room{
		documentID:   documentID,
		doc:          doc,
		translator:   crdt.NewTranslator(doc, logger),
		logger:       logger,
		participants: make(map[string]*models.Participant),
		createdAt:    now,
		lastActiveAt: now,
	}
}

// DocumentID возвращает идентификатор документа комнаты.
func (r *Room) DocumentID() string {
	return r.documentID
}

// Document возвращает CRDT документ комнаты.
func (r *Room) Document() *crdt.Document {
	return r.doc
}

// AddParticipant регистрирует участника в комнате.
// Если у того же пользователя уже есть подключение, старое вытесняется:
// для одного пользователя выигрывает последнее соединение.
// Возвращает connection ID вытесненного подключения, если оно было.
func (r *Room) AddParticipant(p *models.Participant) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted string
	for connID, existing := range r.participants {
		if existing.UserID == p.UserID {
			evicted = connID
			delete(r.participants, connID)
			r.logger.Info("evicting stale connection for user",
				"user_id", p.UserID,
				"document_id", r.documentID,
				"connection_id", connID,
			)
			break
		}
	}

	r.participants[p.ConnectionID] = p
	r.lastActiveAt = time.Now()

	r.logger.Info("participant joined room",
		"username", p.Username,
		"document_id", r.documentID,
		"participants", len(r.participants),
	)

	return evicted
}

// RemoveParticipant убирает участника по connection ID.
// Возвращает удаленного участника или nil, если такого не было.
func (r *Room) RemoveParticipant(connectionID string) *models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[connectionID]
	if !exists {
		return nil
	}

	delete(r.participants, connectionID)
	r.lastActiveAt = time.Now()

	r.logger.Info("participant left room",
		"username", p.Username,
		"document_id", r.documentID,
		"participants", len(r.participants),
	)

	return p
}

// Participants возвращает снапшот-копию списка участников.
// Итерироваться по живой map во время рассылки нельзя.
func (r *Room) Participants() []*models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		result = append(result, p)
	}
	return result
}

// ParticipantCount возвращает число участников.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// IsEmpty сообщает, что в комнате нет участников.
func (r *Room) IsEmpty() bool {
	return r.ParticipantCount() == 0
}

// Touch обновляет время последней активности.
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActiveAt = time.Now()
}

// LastActiveAt возвращает время последней активности.
func (r *Room) LastActiveAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActiveAt
}

// SetCreator записывает создателя комнаты (первого вошедшего).
// Повторные вызовы игнорируются.
func (r *Room) SetCreator(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creatorUserID == "" {
		r.creatorUserID = userID
	}
}

// CreatorUserID возвращает создателя комнаты.
func (r *Room) CreatorUserID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creatorUserID
}

// ApplyDelta транслирует delta-скрипт в CRDT операции и применяет их
// к документу. Возвращает сгенерированные операции для рассылки.
// Некорректный JSON не ошибка уровня соединения: в лог и пустой результат.
func (r *Room) ApplyDelta(deltaJSON, siteID string) []*models.Operation {
	if deltaJSON == "" {
		return nil
	}

	delta, err := api.ParseDelta([]byte(deltaJSON))
	if err != nil {
		r.logger.Warn("failed to parse delta",
			"document_id", r.documentID,
			"site_id", siteID,
			"error", err,
		)
		return nil
	}

	ops := r.translator.Apply(delta)

	r.mu.Lock()
	r.dirty = true
	r.lastActiveAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug("applied delta to room",
		"document_id", r.documentID,
		"site_id", siteID,
		"generated_ops", len(ops),
	)

	return ops
}

// ApplyRemote применяет CRDT операцию с другой реплики.
func (r *Room) ApplyRemote(op *models.Operation) {
	if op == nil {
		return
	}

	r.doc.ApplyRemote(op)

	r.mu.Lock()
	r.dirty = true
	r.lastActiveAt = time.Now()
	r.mu.Unlock()
}

// InitContent выполняет однократную инициализацию документа внешним
// содержимым. content может быть delta JSON или plain text; delta
// сплющивается в текст. Повторные вызовы игнорируются, что защищает
// от гонки двойной загрузки при одновременном входе первых участников.
// Возвращает true, если инициализация произошла в этом вызове.
func (r *Room) InitContent(content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.contentInitialized {
		r.logger.Debug("room content already initialized, skip",
			"document_id", r.documentID,
		)
		return false
	}
	r.contentInitialized = true

	if content != "" {
		text := content
		if delta, err := api.ParseDelta([]byte(content)); err == nil && len(delta.Ops) > 0 {
			text = delta.PlainText()
		}
		r.doc.InitFromText(text)
	}

	r.logger.Info("initialized room content",
		"document_id", r.documentID,
		"content_length", len(content),
	)
	return true
}

// ContentInitialized сообщает, была ли выполнена инициализация.
func (r *Room) ContentInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contentInitialized
}

// IsDirty сообщает о несохраненных правках.
func (r *Room) IsDirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// MarkClean сбрасывает флаг несохраненных правок.
// Вызывается только после успешного сохранения во внешнее хранилище.
func (r *Room) MarkClean() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = false
}

// Content возвращает текущий текст документа.
func (r *Room) Content() string {
	return r.doc.Text()
}

// DeltaContent возвращает содержимое документа в delta-форме (JSON).
func (r *Room) DeltaContent() string {
	delta := r.doc.Delta()
	if delta.Ops == nil {
		delta.Ops = []api.DeltaOp{}
	}
	data, err := json.Marshal(delta)
	if err != nil {
		r.logger.Error("failed to marshal delta content",
			"document_id", r.documentID,
			"error", err,
		)
		return `{"ops":[]}`
	}
	return string(data)
}
