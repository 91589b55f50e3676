package domain

import "time"

type RoomID string

// RoomStats is an observational snapshot of one room, served by the HTTP
// stats endpoint. It never exposes media handles or connection state.
type RoomStats struct {
	ID        RoomID    `json:"id"`
	Members   int       `json:"members"`
	Producers int       `json:"producers"`
	CreatedAt time.Time `json:"created_at"`
}
