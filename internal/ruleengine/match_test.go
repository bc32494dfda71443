package ruleengine

import (
	"testing"

	"github.com/sooh59599/zoohub/internal/domain/rule"
)

func strp(s string) *string { return &s }

func TestMatch(t *testing.T) {
	cases := []struct {
		name string
		r    rule.Rule
		ev   EventFields
		want bool
	}{
		{"disabled never matches", rule.Rule{Enabled: false}, EventFields{Source: "shop"}, false},
		{"wildcard matches anything", rule.Rule{Enabled: true}, EventFields{Source: "shop", Type: "order.created"}, true},
		{"source mismatch", rule.Rule{Enabled: true, Match: rule.Match{Source: strp("shop")}}, EventFields{Source: "crm"}, false},
		{"source match, type wildcard", rule.Rule{Enabled: true, Match: rule.Match{Source: strp("shop")}}, EventFields{Source: "shop", Type: "x"}, true},
		{"both must match", rule.Rule{Enabled: true, Match: rule.Match{Source: strp("shop"), Type: strp("order.created")}}, EventFields{Source: "shop", Type: "order.created"}, true},
		{"type mismatch fails even if source matches", rule.Rule{Enabled: true, Match: rule.Match{Source: strp("shop"), Type: strp("order.created")}}, EventFields{Source: "shop", Type: "order.cancelled"}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Match(c.r, c.ev); got != c.want {
				t.Fatalf("Match() = %v, want %v", got, c.want)
			}
		})
	}
}
