package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// RoomCounter определяет интерфейс для диагностики реестра комнат
type RoomCounter interface {
	ActiveRoomCount() int
}

// StatsHandler обрабатывает диагностические запросы о состоянии
// коллаборации
type StatsHandler struct {
	logger  *slog.Logger
	counter RoomCounter
}

// NewStatsHandler создает новый handler для статистики
func NewStatsHandler(logger *slog.Logger, counter RoomCounter) *StatsHandler {
	return &StatsHandler{
		logger:  logger,
		counter: counter,
	}
}

// StatsResponse представляет ответ со статистикой
type StatsResponse struct {
	ActiveRooms int `json:"active_rooms"`
}

// Stats обрабатывает GET /api/v1/stats
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		ActiveRooms: h.counter.ActiveRoomCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode stats response", slog.Any("error", err))
	}
}
