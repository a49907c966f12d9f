package conversation

import (
	"time"

	"messaging-service/internal/models"
)

// Direction classifies a message relative to the viewer.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Rendered is the display form of a message: classified by direction, with
// the timestamp in the viewer's local time at hour:minute precision.
type Rendered struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	Direction   Direction `json:"direction"`
	Content     string    `json:"content"`
	DisplayTime string    `json:"display_time"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Render converts a message into its display form for the given viewer.
// A nil location falls back to the server's local zone.
func Render(msg models.Message, selfID string, loc *time.Location) Rendered {
	if loc == nil {
		loc = time.Local
	}
	direction := Incoming
	if msg.SenderID == selfID {
		direction = Outgoing
	}
	return Rendered{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		Direction:   direction,
		Content:     msg.Content,
		DisplayTime: msg.CreatedAt.In(loc).Format("15:04"),
		IsRead:      msg.IsRead,
		CreatedAt:   msg.CreatedAt,
	}
}

// RenderAll renders a projected conversation preserving its order.
func RenderAll(msgs []models.Message, selfID string, loc *time.Location) []Rendered {
	out := make([]Rendered, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, Render(msg, selfID, loc))
	}
	return out
}
