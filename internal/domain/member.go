package domain

// Participant is a remote member of the media session as reported by the engine.
// No transport or lifecycle logic here.
type Participant struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	IsAgent  bool   `json:"is_agent,omitempty"`
}
