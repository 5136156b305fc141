package api

// MessageType определяет тип WebSocket сообщения протокола коллаборации.
type MessageType string

// Типы сообщений клиент -> сервер
const (
	TypeOperation   MessageType = "Operation"   // одиночная операция редактирования
	TypeOperations  MessageType = "Operations"  // пакет операций
	TypeSyncRequest MessageType = "SyncRequest" // запрос полного состояния документа
)

// Типы сообщений сервер -> клиент
const (
	TypeJoined           MessageType = "Joined"           // подтверждение входа в комнату
	TypeUserJoined       MessageType = "UserJoined"       // другой пользователь вошел
	TypeUserLeft         MessageType = "UserLeft"         // другой пользователь вышел
	TypeSyncResponse     MessageType = "SyncResponse"     // ответ на SyncRequest
	TypeRemoteOperation  MessageType = "RemoteOperation"  // ретрансляция чужой операции
	TypeRemoteOperations MessageType = "RemoteOperations" // ретрансляция пакета операций
	TypeError            MessageType = "Error"            // ошибка обработки сообщения
)

// OnlineUser представляет участника комнаты в roster-списках.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	SiteID   string `json:"siteId"`
}

// Message представляет единицу обмена по WebSocket.
// Поля operation/operations/content/onlineUsers/error заполняются
// в зависимости от типа сообщения.
type Message struct {
	Type        MessageType  `json:"type"`
	DocumentID  string       `json:"documentId,omitempty"`
	UserID      string       `json:"userId,omitempty"`
	Username    string       `json:"username,omitempty"`
	SiteID      string       `json:"siteId,omitempty"`
	Content     string       `json:"content,omitempty"`
	Error       string       `json:"error,omitempty"`
	Operation   *Operation   `json:"operation,omitempty"`
	Operations  []*Operation `json:"operations,omitempty"`
	OnlineUsers []OnlineUser `json:"onlineUsers,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"`
}
