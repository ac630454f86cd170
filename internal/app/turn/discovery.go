package turn

import (
	"strings"

	"github.com/dkeye/voicectl/internal/domain"
)

const DefaultAgentNameHint = "agent"

// AgentFinder picks the remote agent out of the participant registry: the
// first participant that is either flagged as an agent or whose identity
// contains NameHint. The substring match covers engines that do not propagate
// the flag.
type AgentFinder struct {
	NameHint string
}

// Find returns the identity of the agent, or ok=false when none is present.
func (f AgentFinder) Find(participants []domain.Participant) (identity string, ok bool) {
	hint := f.NameHint
	if hint == "" {
		hint = DefaultAgentNameHint
	}
	for _, p := range participants {
		if p.IsAgent || strings.Contains(p.Identity, hint) {
			return p.Identity, true
		}
	}
	return "", false
}
