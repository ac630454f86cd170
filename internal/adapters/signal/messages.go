package signal

import (
	"encoding/json"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Message types exchanged over the signaling socket.
const (
	TypeJoin              = "join"
	TypeLeave             = "leave"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeOffer             = "offer"
	TypeAnswer            = "answer"
	TypeCandidate         = "candidate"
	TypeRoomState         = "room_state"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeRPCRequest        = "rpc_request"
	TypeRPCResponse       = "rpc_response"
	TypeError             = "error"
)

type Envelope struct {
	Type string `json:"type"`
}

type JoinMessage struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type RoomState struct {
	Type         string               `json:"type"`
	Room         domain.RoomName      `json:"room"`
	Identity     string               `json:"identity,omitempty"`
	Participants []domain.Participant `json:"participants"`
}

type ParticipantJoined struct {
	Type        string             `json:"type"`
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeft struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Type      string                  `json:"type"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type RPCRequest struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Caller      string `json:"caller,omitempty"`
	Destination string `json:"destination"`
	Method      string `json:"method"`
	Payload     string `json:"payload"`
}

type RPCResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
