package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/collabdocs/internal/models"
	"github.com/iudanet/collabdocs/pkg/api"
)

// Session представляет одно установленное WebSocket подключение.
// Чтение идет в одной горутине (readLoop), запись может приходить из
// многих (ответы + broadcast других подключений), поэтому фактическая
// запись в сокет сериализована через writeMu: конкурентные отправки
// никогда не перемежают частичные фреймы.
type Session struct {
	conn        *websocket.Conn
	participant *models.Participant
	logger      *slog.Logger
	writeMu     sync.Mutex
}

func newSession(conn *websocket.Conn, participant *models.Participant, logger *slog.Logger) *Session {
	return &Session{
		conn:        conn,
		participant: participant,
		logger:      logger,
	}
}

// Participant возвращает участника этого подключения.
func (s *Session) Participant() *models.Participant {
	return s.participant
}

// send сериализует и отправляет сообщение этому подключению.
func (s *Session) send(msg *api.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.sendRaw(payload)
}

// sendRaw отправляет готовые байты под эксклюзивной секцией записи.
func (s *Session) sendRaw(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// sendError отправляет Error-сообщение только этому подключению.
// Ошибки содержимого не повод рвать соединение.
func (s *Session) sendError(errText string) {
	msg := &api.Message{
		Type:      api.TypeError,
		Error:     errText,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.send(msg); err != nil {
		s.logger.Error("failed to send error message",
			"connection_id", s.participant.ConnectionID,
			"error", err,
		)
	}
}

// readLoop читает входящие сообщения до разрыва соединения.
// Одно сообщение за раз: операции одного подключения уходят в
// broadcast в порядке их локального применения.
func (s *Session) readLoop(h *Handler) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read error",
					"connection_id", s.participant.ConnectionID,
					"error", err,
				)
			}
			return
		}
		h.handleInbound(s, payload)
	}
}

// close закрывает транспорт; повторные вызовы безопасны.
func (s *Session) close() {
	_ = s.conn.Close()
}
