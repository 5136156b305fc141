package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/iudanet/collabdocs/internal/collab"
	"github.com/iudanet/collabdocs/internal/docstore"
	"github.com/iudanet/collabdocs/internal/models"
	"github.com/iudanet/collabdocs/internal/server/auth"
	"github.com/iudanet/collabdocs/internal/validation"
	"github.com/iudanet/collabdocs/pkg/api"
)

// DocumentStore определяет интерфейс внешнего хранилища документов,
// потребляемый протокольным слоем.
type DocumentStore interface {
	Fetch(ctx context.Context, documentID, userID string) (*docstore.Document, error)
	Update(ctx context.Context, documentID, content, userID string) error
}

// TokenValidator определяет интерфейс identity-провайдера:
// handshake-токен превращается в пользователя или отклоняется.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Config содержит настройки протокольного слоя.
type Config struct {
	// FetchAttempts число попыток загрузки содержимого при bootstrap
	FetchAttempts int
	// FetchDelay фиксированная пауза между попытками
	FetchDelay time.Duration
}

// Handler обслуживает WebSocket подключения протокола коллаборации:
// handshake, bootstrap содержимого, диспетчеризация сообщений,
// broadcast и сохранение при опустошении комнаты.
type Handler struct {
	logger   *slog.Logger
	registry *collab.Registry
	store    DocumentStore
	identity TokenValidator
	cfg      Config
	upgrader websocket.Upgrader

	// mu защищает таблицу активных подключений
	mu       sync.RWMutex
	sessions map[string]*Session // key: connection ID
}

// NewHandler создает протокольный слой.
func NewHandler(logger *slog.Logger, registry *collab.Registry, store DocumentStore, identity TokenValidator, cfg Config) *Handler {
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 3
	}
	if cfg.FetchDelay <= 0 {
		cfg.FetchDelay = 500 * time.Millisecond
	}

	return &Handler{
		logger:   logger,
		registry: registry,
		store:    store,
		identity: identity,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			// Источники фильтрует gateway, сюда приходит уже доверенный трафик
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// HandleWS обрабатывает подключение GET /ws/{documentID}?token=...
// Идентификация и documentID разрешаются до upgrade: отказ — это
// обычный HTTP статус, полуоткрытых сессий не бывает.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentID"]
	if err := validation.ValidateDocumentID(documentID); err != nil {
		h.logger.Warn("websocket handshake rejected: bad document id", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		h.logger.Warn("websocket handshake rejected: no token", "document_id", documentID)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := h.identity.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket handshake rejected: invalid token",
			"document_id", documentID,
			"error", err,
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам пишет ответ клиенту
		h.logger.Error("websocket upgrade failed", "document_id", documentID, "error", err)
		return
	}

	participant := models.NewParticipant(claims.UserID, claims.Username, documentID)
	session := newSession(conn, participant, h.logger)

	h.logger.Info("websocket connection established",
		"username", participant.Username,
		"document_id", documentID,
		"connection_id", participant.ConnectionID,
	)

	h.establish(r.Context(), session)
	session.readLoop(h)
	h.closeSession(session)
}

// establish выполняет вход участника в комнату: bootstrap содержимого
// для первой сессии, регистрация, Joined новому подключению и
// UserJoined остальным.
func (h *Handler) establish(ctx context.Context, s *Session) {
	p := s.participant

	room := h.registry.Get(p.DocumentID)
	if room == nil || room.IsEmpty() {
		h.bootstrapContent(ctx, p.DocumentID, p.UserID)
		room = h.registry.GetOrCreate(p.DocumentID)
		// Первый вошедший становится создателем: от его имени комната
		// будет сохраняться при опустошении
		room.SetCreator(p.UserID)
	}

	// Сессия регистрируется до входа в комнату: участник, попавший в
	// снапшот broadcast, всегда имеет живую сессию
	h.mu.Lock()
	h.sessions[p.ConnectionID] = s
	h.mu.Unlock()

	_, evicted := h.registry.Join(p.DocumentID, p)
	if evicted != "" {
		h.closeStaleSession(evicted)
	}

	joined := &api.Message{
		Type:        api.TypeJoined,
		DocumentID:  p.DocumentID,
		UserID:      p.UserID,
		Username:    p.Username,
		SiteID:      p.SiteID,
		Content:     room.DeltaContent(),
		OnlineUsers: h.onlineUsers(p.DocumentID),
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := s.send(joined); err != nil {
		h.logger.Error("failed to send joined message",
			"connection_id", p.ConnectionID,
			"error", err,
		)
	}

	h.broadcast(p.DocumentID, &api.Message{
		Type:        api.TypeUserJoined,
		DocumentID:  p.DocumentID,
		UserID:      p.UserID,
		Username:    p.Username,
		SiteID:      p.SiteID,
		OnlineUsers: h.onlineUsers(p.DocumentID),
		Timestamp:   time.Now().UnixMilli(),
	}, p.ConnectionID)
}

// bootstrapContent загружает содержимое документа из внешнего хранилища
// с ограниченным числом попыток и фиксированной паузой. Исчерпание
// попыток не фатально: комната стартует пустой. Блокирует только
// установку этого подключения, чужие соединения не ждут.
func (h *Handler) bootstrapContent(ctx context.Context, documentID, userID string) {
	for attempt := 1; attempt <= h.cfg.FetchAttempts; attempt++ {
		doc, err := h.store.Fetch(ctx, documentID, userID)
		if err == nil {
			if doc != nil && doc.Content != "" {
				room := h.registry.GetOrCreate(documentID)
				room.InitContent(doc.Content)
			}
			return
		}
		if errors.Is(err, docstore.ErrNotFound) {
			// Новый документ: пустое содержимое, ретраи не нужны
			return
		}

		h.logger.Warn("failed to load document content",
			"document_id", documentID,
			"attempt", attempt,
			"max_attempts", h.cfg.FetchAttempts,
			"error", err,
		)
		if attempt < h.cfg.FetchAttempts {
			time.Sleep(h.cfg.FetchDelay)
		}
	}

	h.logger.Error("giving up loading document content, starting with empty document",
		"document_id", documentID,
	)
}

// handleInbound разбирает и диспетчеризует входящее сообщение.
// Поля отправителя проставляются сервером: клиенту они не доверяются.
func (h *Handler) handleInbound(s *Session, payload []byte) {
	var msg api.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.logger.Warn("malformed inbound message",
			"connection_id", s.participant.ConnectionID,
			"error", err,
		)
		s.sendError("malformed message")
		return
	}

	p := s.participant
	msg.DocumentID = p.DocumentID
	msg.UserID = p.UserID
	msg.Username = p.Username
	msg.SiteID = p.SiteID
	msg.Timestamp = time.Now().UnixMilli()

	switch msg.Type {
	case api.TypeOperation:
		h.handleOperation(s, msg.Operation)
	case api.TypeOperations:
		h.handleOperations(s, msg.Operations)
	case api.TypeSyncRequest:
		h.handleSyncRequest(s)
	default:
		h.logger.Warn("ignoring message of unknown type",
			"type", msg.Type,
			"connection_id", p.ConnectionID,
		)
	}
}

// applyInboundOperation применяет входящую операцию к авторитетному
// состоянию комнаты. Основной путь — delta-скрипт внутри
// operation.character.value; операция без скрипта (символьная
// Delete/Format с настоящими идентификаторами) конвертируется в
// доменную форму и применяется напрямую. Неприменимая операция
// пропускается: ретрансляция от нее не зависит.
func (h *Handler) applyInboundOperation(p *models.Participant, op *api.Operation) {
	if op.Character != nil && op.Character.Value != "" {
		h.registry.ApplyDelta(p.DocumentID, op.Character.Value, p.SiteID)
		return
	}

	domainOp, err := models.OperationFromWire(op)
	if err != nil {
		h.logger.Debug("skipping non-applicable operation",
			"connection_id", p.ConnectionID,
			"error", err,
		)
		return
	}
	domainOp.DocumentID = p.DocumentID
	h.registry.ApplyRemote(p.DocumentID, domainOp)
}

// handleOperation применяет операцию и ретранслирует ее остальным.
// Клиент передает delta-скрипт внутри operation.character.value;
// сервер применяет его к CRDT (авторитетное состояние для снапшотов
// и sync), а остальным участникам уходит исходный payload как есть,
// без пересборки из CRDT состояния.
func (h *Handler) handleOperation(s *Session, op *api.Operation) {
	if op == nil {
		return
	}
	p := s.participant

	h.applyInboundOperation(p, op)

	h.broadcast(p.DocumentID, &api.Message{
		Type:       api.TypeRemoteOperation,
		DocumentID: p.DocumentID,
		UserID:     p.UserID,
		Username:   p.Username,
		SiteID:     p.SiteID,
		Operation:  op,
		Timestamp:  time.Now().UnixMilli(),
	}, p.ConnectionID)
}

// handleOperations применяет пакет операций и ретранслирует его целиком.
func (h *Handler) handleOperations(s *Session, ops []*api.Operation) {
	if len(ops) == 0 {
		return
	}
	p := s.participant

	for _, op := range ops {
		if op != nil {
			h.applyInboundOperation(p, op)
		}
	}

	h.broadcast(p.DocumentID, &api.Message{
		Type:       api.TypeRemoteOperations,
		DocumentID: p.DocumentID,
		UserID:     p.UserID,
		Username:   p.Username,
		SiteID:     p.SiteID,
		Operations: ops,
		Timestamp:  time.Now().UnixMilli(),
	}, p.ConnectionID)
}

// handleSyncRequest отвечает текущим содержимым комнаты.
func (h *Handler) handleSyncRequest(s *Session) {
	p := s.participant

	content := `{"ops":[]}`
	if room := h.registry.Get(p.DocumentID); room != nil {
		content = room.DeltaContent()
	}

	resp := &api.Message{
		Type:       api.TypeSyncResponse,
		DocumentID: p.DocumentID,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := s.send(resp); err != nil {
		h.logger.Error("failed to send sync response",
			"connection_id", p.ConnectionID,
			"error", err,
		)
	}
}

// closeSession выполняет teardown подключения: участник убирается из
// комнаты до вычисления roster (вышедший не должен видеть себя в
// собственном UserLeft), затем при опустошении комнаты содержимое
// сохраняется во внешнее хранилище.
func (h *Handler) closeSession(s *Session) {
	p := s.participant

	h.mu.Lock()
	delete(h.sessions, p.ConnectionID)
	h.mu.Unlock()

	removed := h.registry.Leave(p.DocumentID, p.ConnectionID)
	if removed != nil {
		h.broadcast(p.DocumentID, &api.Message{
			Type:        api.TypeUserLeft,
			DocumentID:  p.DocumentID,
			UserID:      p.UserID,
			Username:    p.Username,
			SiteID:      p.SiteID,
			OnlineUsers: h.onlineUsers(p.DocumentID),
			Timestamp:   time.Now().UnixMilli(),
		}, "")

		if room := h.registry.Get(p.DocumentID); room != nil && room.IsEmpty() {
			if err := h.PersistRoom(context.Background(), room); err != nil {
				// Комната остается dirty; idle-sweep попробует сохранить
				// еще раз перед вытеснением
				h.logger.Error("failed to auto-save document on room drain",
					"document_id", p.DocumentID,
					"error", err,
				)
			}
		}
	}

	s.close()

	h.logger.Info("websocket connection closed",
		"username", p.Username,
		"document_id", p.DocumentID,
		"connection_id", p.ConnectionID,
	)
}

// closeStaleSession закрывает транспорт вытесненного подключения.
// Его readLoop завершится и отработает обычный teardown; участника
// в комнате уже нет, так что лишнего UserLeft не будет.
func (h *Handler) closeStaleSession(connectionID string) {
	h.mu.RLock()
	stale := h.sessions[connectionID]
	h.mu.RUnlock()
	if stale != nil {
		stale.close()
	}
}

// PersistRoom сохраняет содержимое комнаты во внешнее хранилище.
// Чистая комната — no-op. Флаг dirty сбрасывается только при успехе.
func (h *Handler) PersistRoom(ctx context.Context, room *collab.Room) error {
	if !room.IsDirty() {
		return nil
	}

	content := room.DeltaContent()
	if content == "" || content == `{"ops":[]}` {
		h.logger.Debug("room content is empty, skip saving", "document_id", room.DocumentID())
		return nil
	}

	creator := room.CreatorUserID()
	if creator == "" {
		return fmt.Errorf("room %s has no creator, cannot save", room.DocumentID())
	}

	if err := h.store.Update(ctx, room.DocumentID(), content, creator); err != nil {
		return fmt.Errorf("failed to update document %s: %w", room.DocumentID(), err)
	}

	room.MarkClean()
	h.logger.Info("auto-saved document content", "document_id", room.DocumentID())
	return nil
}

// PersistDirtyRooms сохраняет все грязные комнаты.
// Вызывается при graceful shutdown сервера.
func (h *Handler) PersistDirtyRooms(ctx context.Context) {
	for _, room := range h.registry.Rooms() {
		if err := h.PersistRoom(ctx, room); err != nil {
			h.logger.Error("failed to persist room on shutdown",
				"document_id", room.DocumentID(),
				"error", err,
			)
		}
	}
}

// broadcast рассылает сообщение всем участникам комнаты, кроме
// excludeConnectionID. Снапшот участников берется до итерации,
// сериализация выполняется один раз, всем уходят одинаковые байты.
func (h *Handler) broadcast(documentID string, msg *api.Message, excludeConnectionID string) {
	room := h.registry.Get(documentID)
	if room == nil {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message",
			"document_id", documentID,
			"error", err,
		)
		return
	}

	for _, p := range room.Participants() {
		if p.ConnectionID == excludeConnectionID {
			continue
		}

		h.mu.RLock()
		session := h.sessions[p.ConnectionID]
		h.mu.RUnlock()
		if session == nil {
			continue
		}

		if err := session.sendRaw(payload); err != nil {
			h.logger.Error("failed to send broadcast message",
				"connection_id", p.ConnectionID,
				"error", err,
			)
		}
	}
}

// onlineUsers возвращает roster комнаты.
func (h *Handler) onlineUsers(documentID string) []api.OnlineUser {
	room := h.registry.Get(documentID)
	if room == nil {
		return nil
	}

	participants := room.Participants()
	users := make([]api.OnlineUser, 0, len(participants))
	for _, p := range participants {
		users = append(users, api.OnlineUser{
			UserID:   p.UserID,
			Username: p.Username,
			SiteID:   p.SiteID,
		})
	}
	return users
}
