package session

import "github.com/astarch-code/shiftdesk/pkg/protocol"

// baseRoster is the shared colleague template. Sessions always work on a
// copy; the template itself never changes.
var baseRoster = []protocol.Agent{
	{ID: "bot1", Name: "Lukas Schneider", Skill: 0.9, Trust: 0.9, Greeting: "Hello! I'm on shift. Write if you need help.", Status: protocol.AgentOnline},
	{ID: "bot2", Name: "Anna Müller", Skill: 0.9, Trust: 0.5, Greeting: "Hey. Lots of work...", Status: protocol.AgentOnline},
	{ID: "bot3", Name: "Jonas Weber", Skill: 0.9, Trust: 0.7, Greeting: "Good day, colleagues.", Status: protocol.AgentOnline},
	{ID: "bot4", Name: "Felix Hoffmann", Skill: 0.9, Trust: 0.8, Greeting: "Morning! Ready to help.", Status: protocol.AgentOnline},
	{ID: "bot5", Name: "Laura Schmidt", Skill: 0.9, Trust: 0.6, Greeting: "Hi there, what's the issue?", Status: protocol.AgentOnline},
}

// BaseRoster returns a fresh copy of the colleague template.
func BaseRoster() []protocol.Agent {
	out := make([]protocol.Agent, len(baseRoster))
	copy(out, baseRoster)
	return out
}
