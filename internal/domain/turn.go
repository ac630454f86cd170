package domain

type TurnState int32

const (
	TurnIdle TurnState = iota
	TurnRequesting
	TurnActive
	TurnEnding
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnRequesting:
		return "requesting"
	case TurnActive:
		return "active"
	case TurnEnding:
		return "ending"
	default:
		return "unknown"
	}
}
