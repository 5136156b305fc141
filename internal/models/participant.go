package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant представляет одно подключение пользователя к комнате.
// Создается при установке соединения, уничтожается при разрыве.
// SiteID уникален на каждое подключение: повторный вход того же
// пользователя получает новый site и новую серию clock-значений.
type Participant struct {
	JoinedAt     time.Time
	UserID       string
	Username     string
	ConnectionID string
	DocumentID   string
	SiteID       string
}

// NewParticipant создает участника с новым connection ID и site ID.
func NewParticipant(userID, username, documentID string) *Participant {
	connectionID := uuid.NewString()
	return &Participant{
		UserID:       userID,
		Username:     username,
		ConnectionID: connectionID,
		DocumentID:   documentID,
		SiteID:       fmt.Sprintf("site_%s_%s", userID, connectionID[:8]),
		JoinedAt:     time.Now(),
	}
}
