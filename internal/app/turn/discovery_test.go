package turn

import (
	"testing"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestAgentFinder(t *testing.T) {
	cases := map[string]struct {
		hint         string
		participants []domain.Participant
		want         string
		ok           bool
	}{
		"empty registry": {},
		"first match in registry order": {
			participants: []domain.Participant{
				{Identity: "agent-by-name"},
				{Identity: "bot-1", IsAgent: true},
			},
			want: "agent-by-name",
			ok:   true,
		},
		"flag without name": {
			participants: []domain.Participant{
				{Identity: "user-42"},
				{Identity: "bot-1", IsAgent: true},
			},
			want: "bot-1",
			ok:   true,
		},
		"name fallback": {
			participants: []domain.Participant{
				{Identity: "user-42"},
				{Identity: "voice-agent-1"},
			},
			want: "voice-agent-1",
			ok:   true,
		},
		"match is case sensitive": {
			participants: []domain.Participant{{Identity: "AGENT"}},
		},
		"custom hint": {
			hint:         "assistant",
			participants: []domain.Participant{{Identity: "agent-1"}, {Identity: "assistant-2"}},
			want:         "assistant-2",
			ok:           true,
		},
		"no match": {
			participants: []domain.Participant{{Identity: "user-42"}},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := AgentFinder{NameHint: tc.hint}.Find(tc.participants)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
