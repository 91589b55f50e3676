package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"huddlenet/internal/core/domain"
	"huddlenet/internal/core/ports"
	"huddlenet/pkg/cache"
)

// statsTTL bounds how stale the REST view of rooms may be. Polling dashboards
// hit these endpoints far more often than room state changes.
const statsTTL = time.Second

// RoomHandler exposes the observational REST surface. Rooms are created and
// destroyed only through the signaling protocol; this surface is read-only.
type RoomHandler struct {
	roomService ports.RoomService
	stats       *cache.CacheWithFallback
}

func NewRoomHandler(roomService ports.RoomService) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		stats:       cache.NewCacheWithFallback(statsTTL),
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
	}
}

type roomView struct {
	ID        domain.RoomID `json:"id"`
	Members   int           `json:"members"`
	Producers int           `json:"producers"`
	CreatedAt time.Time     `json:"created_at"`
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.roomStats(c)
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	for _, r := range h.roomStats(c) {
		if r.ID == roomID {
			c.JSON(http.StatusOK, gin.H{"room": r})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
}

// roomStats returns the cached room snapshot, refreshing it when stale.
func (h *RoomHandler) roomStats(c *gin.Context) []roomView {
	value, err := h.stats.GetOrSet(c.Request.Context(), "room_stats", func(ctx context.Context) (interface{}, error) {
		stats := h.roomService.RoomStats(ctx)
		rooms := make([]roomView, 0, len(stats))
		for _, s := range stats {
			rooms = append(rooms, roomView{
				ID:        s.ID,
				Members:   s.Members,
				Producers: s.Producers,
				CreatedAt: s.CreatedAt,
			})
		}
		return rooms, nil
	}, statsTTL)
	if err != nil {
		return nil
	}
	return value.([]roomView)
}
