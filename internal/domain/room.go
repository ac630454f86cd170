package domain

type (
	RoomName      string
	CorrelationID string
)

// SessionTicket is the one-time set of parameters for a single media connect attempt.
type SessionTicket struct {
	JoinToken     string        `json:"token"`
	MediaURL      string        `json:"roomUrl"`
	Room          RoomName      `json:"room"`
	CorrelationID CorrelationID `json:"conversation_id"`
}
