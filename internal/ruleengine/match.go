// Package ruleengine matches rules against events and renders rule action
// templates against the event's context.
package ruleengine

import "github.com/sooh59599/zoohub/internal/domain/rule"

// EventFields is the subset of an event a rule's Match narrows on.
type EventFields struct {
	Source string
	Type   string
}

// Match reports whether rule r fires for the given event. A disabled rule
// never matches. A nil Match.Source/Match.Type is a wildcard.
func Match(r rule.Rule, ev EventFields) bool {
	if !r.Enabled {
		return false
	}
	if r.Match.Source != nil && *r.Match.Source != ev.Source {
		return false
	}
	if r.Match.Type != nil && *r.Match.Type != ev.Type {
		return false
	}
	return true
}
