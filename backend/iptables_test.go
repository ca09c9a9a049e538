package backend

import (
	"strings"
	"testing"

	"github.com/dfw-sh/dfwd/rule"
)

// TestRenderRestoreDocument_LastPolicyWins ensures a chain that receives more
// than one KindPolicy entry (e.g. the prelude's "-" keep-policy declaration
// followed by a section's configured default policy) ends up with the last
// one written, not the first.
func TestRenderRestoreDocument_LastPolicyWins(t *testing.T) {
	rules := []rule.IptablesRule{
		{Table: "filter", Chain: "DFWRS_FORWARD", Family: rule.FamilyV4, Kind: rule.KindPolicy, Line: "-"},
		{Table: "filter", Chain: "DFWRS_FORWARD", Family: rule.FamilyV4, Kind: rule.KindRuleLine, Line: "-A DFWRS_FORWARD -j ACCEPT"},
		{Table: "filter", Chain: "DFWRS_FORWARD", Family: rule.FamilyV4, Kind: rule.KindPolicy, Line: "drop"},
	}

	doc := renderRestoreDocument(rules, rule.FamilyV4)

	if !strings.Contains(doc, ":DFWRS_FORWARD drop [0:0]\n") {
		t.Errorf("expected last policy (drop) to win, got:\n%s", doc)
	}
	if strings.Contains(doc, ":DFWRS_FORWARD - [0:0]\n") {
		t.Errorf("first policy (-) should have been overridden, got:\n%s", doc)
	}
	if got := strings.Count(doc, ":DFWRS_FORWARD"); got != 1 {
		t.Errorf("expected exactly one policy declaration for DFWRS_FORWARD, got %d", got)
	}
}

// TestIptablesApply_GroupsByTableInsertionOrder is scenario S5.
func TestIptablesApply_GroupsByTableInsertionOrder(t *testing.T) {
	rules := []rule.IptablesRule{
		{Table: "filter", Chain: "DFWRS_FORWARD", Family: rule.FamilyV4, Kind: rule.KindRuleLine, Line: "-A DFWRS_FORWARD -j ACCEPT"},
		{Table: "nat", Chain: "DFWRS_PREROUTING", Family: rule.FamilyV4, Kind: rule.KindRuleLine, Line: "-A DFWRS_PREROUTING -j DNAT --to-destination 10.0.0.2:80"},
	}

	doc := renderRestoreDocument(rules, rule.FamilyV4)

	if got := strings.Count(doc, "COMMIT"); got != 2 {
		t.Errorf("got %d COMMIT lines, want 2:\n%s", got, doc)
	}
	if got := strings.Count(doc, "*filter"); got != 1 {
		t.Errorf("expected exactly one *filter block, got %d", got)
	}
	if got := strings.Count(doc, "*nat"); got != 1 {
		t.Errorf("expected exactly one *nat block, got %d", got)
	}
	if strings.Index(doc, "*filter") > strings.Index(doc, "*nat") {
		t.Errorf("expected *filter block (seen first) before *nat block:\n%s", doc)
	}
}
