package collab

import (
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/collabdocs/internal/models"
)

// Registry управляет комнатами коллаборации процесса: создание по
// требованию, маршрутизация операций, вытеснение простаивающих комнат.
// Хранилище внутреннее и потокобезопасное; реестр передается явно,
// а не живет процесс-wide статиком, чтобы жизненный цикл и тесты
// оставались управляемыми.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room // key: document ID
}

// NewRegistry создает пустой реестр комнат.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// GetOrCreate возвращает комнату документа, создавая ее при отсутствии.
// Атомарно: при конкурентных вызовах для одного documentID все получают
// один и тот же экземпляр.
func (g *Registry) GetOrCreate(documentID string) *Room {
	g.mu.RLock()
	room, exists := g.rooms[documentID]
	g.mu.RUnlock()
	if exists {
		return room
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Перепроверка под write-lock: комнату могли создать параллельно
	if room, exists := g.rooms[documentID]; exists {
		return room
	}

	room = NewRoom(documentID, g.logger)
	g.rooms[documentID] = room
	g.logger.Info("created collaboration room", "document_id", documentID)
	return room
}

// Get возвращает комнату документа или nil.
func (g *Registry) Get(documentID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[documentID]
}

// Join добавляет участника в комнату документа, создавая комнату при
// необходимости. Возвращает комнату и connection ID вытесненного
// подключения того же пользователя, если оно было.
func (g *Registry) Join(documentID string, p *models.Participant) (*Room, string) {
	room := g.GetOrCreate(documentID)
	evicted := room.AddParticipant(p)
	return room, evicted
}

// Leave убирает участника из комнаты документа и возвращает его.
// Отсутствие комнаты или участника не ошибка (nil): комната могла быть
// уже вычищена, а подключение — вытеснено более новым.
func (g *Registry) Leave(documentID, connectionID string) *models.Participant {
	if room := g.Get(documentID); room != nil {
		return room.RemoveParticipant(connectionID)
	}
	return nil
}

// ApplyDelta маршрутизирует delta-скрипт в комнату документа.
// Отсутствие комнаты не ошибка: возвращается пустой результат.
func (g *Registry) ApplyDelta(documentID, deltaJSON, siteID string) []*models.Operation {
	room := g.Get(documentID)
	if room == nil {
		return nil
	}
	return room.ApplyDelta(deltaJSON, siteID)
}

// ApplyRemote маршрутизирует CRDT операцию в комнату документа.
func (g *Registry) ApplyRemote(documentID string, op *models.Operation) {
	if room := g.Get(documentID); room != nil {
		room.ApplyRemote(op)
	}
}

// CleanupIdle вычищает пустые комнаты, простаивающие дольше idle.
// Перед вытеснением грязной комнаты вызывается persist (если задан):
// это последний шанс сохранить правки, потерянные на разрыве соединения.
// Неудача сохранения не останавливает вытеснение, но логируется как
// потеря данных. Возвращает число удаленных комнат.
func (g *Registry) CleanupIdle(idle time.Duration, persist func(*Room) error) int {
	now := time.Now()

	// Кандидатов собираем под read-lock, удаляем под write-lock:
	// persist ходит во внешнее хранилище и не должен держать реестр.
	g.mu.RLock()
	var candidates []*Room
	for _, room := range g.rooms {
		if room.IsEmpty() && now.Sub(room.LastActiveAt()) > idle {
			candidates = append(candidates, room)
		}
	}
	g.mu.RUnlock()

	removed := 0
	for _, room := range candidates {
		if room.IsDirty() && persist != nil {
			if err := persist(room); err != nil {
				g.logger.Error("evicting dirty room, unsaved edits lost",
					"document_id", room.DocumentID(),
					"error", err,
				)
			}
		}

		g.mu.Lock()
		// Комната могла ожить между снятием снапшота и удалением
		if current, exists := g.rooms[room.DocumentID()]; exists && current == room && room.IsEmpty() {
			delete(g.rooms, room.DocumentID())
			removed++
			g.logger.Info("removed idle room", "document_id", room.DocumentID())
		}
		g.mu.Unlock()
	}

	return removed
}

// Rooms возвращает снапшот-копию всех комнат.
// Используется для финального сохранения при остановке сервера.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		result = append(result, room)
	}
	return result
}

// ActiveRoomCount возвращает число активных комнат (диагностика).
func (g *Registry) ActiveRoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
