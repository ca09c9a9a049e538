package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dfw-sh/dfwd/rule"
)

// Iptables applies a compiled ruleset with iptables-restore/ip6tables-restore,
// one restore document per address family.
type Iptables struct {
	rules []rule.IptablesRule
}

var _ Backend = (*Iptables)(nil)

func NewIptables(rules []rule.IptablesRule) Backend {
	return &Iptables{rules: rules}
}

func (ip *Iptables) Name() string { return "iptables" }

func (ip *Iptables) Apply(ctx context.Context, dryRun bool) error {
	for _, family := range []rule.Family{rule.FamilyV4, rule.FamilyV6} {
		doc := renderRestoreDocument(ip.rules, family)
		if doc == "" {
			continue
		}

		command := "iptables-restore"
		if family == rule.FamilyV6 {
			command = "ip6tables-restore"
		}

		if dryRun {
			log.Infof("iptables: dry-run, would run %s with:\n%s", command, doc)
			continue
		}

		if err := runRestore(ctx, command, doc); err != nil {
			return err
		}
	}
	return nil
}

// renderRestoreDocument groups a family's rules by table, preserving the
// order tables and rules were first encountered (not alphabetical), and
// renders one `*table ... COMMIT` block per table.
func renderRestoreDocument(rules []rule.IptablesRule, family rule.Family) string {
	var tableOrder []string
	byTable := make(map[string][]rule.IptablesRule)

	for _, r := range rules {
		if r.Family != family {
			continue
		}
		if _, seen := byTable[r.Table]; !seen {
			tableOrder = append(tableOrder, r.Table)
		}
		byTable[r.Table] = append(byTable[r.Table], r)
	}

	if len(tableOrder) == 0 {
		return ""
	}

	var b strings.Builder
	for _, table := range tableOrder {
		b.WriteString("*" + table + "\n")

		var chainOrder []string
		policy := make(map[string]string)
		for _, r := range byTable[table] {
			if r.Kind != rule.KindPolicy {
				continue
			}
			if _, seen := policy[r.Chain]; !seen {
				chainOrder = append(chainOrder, r.Chain)
			}
			policy[r.Chain] = r.Line
		}
		for _, chain := range chainOrder {
			b.WriteString(fmt.Sprintf(":%s %s [0:0]\n", chain, policy[chain]))
		}
		for _, r := range byTable[table] {
			if r.Kind == rule.KindRuleLine {
				b.WriteString(r.Line + "\n")
			}
		}
		b.WriteString("COMMIT\n")
	}

	return b.String()
}

func runRestore(ctx context.Context, command, doc string) error {
	cmd := exec.CommandContext(ctx, command)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("backend: iptables: %s stdin pipe: %w", command, err)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	log.Infof("iptables: running %s", command)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("backend: iptables: %s start: %w", command, err)
	}

	if _, err := io.WriteString(stdin, doc); err != nil {
		stdin.Close()
		return fmt.Errorf("backend: iptables: %s write: %w", command, err)
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		log.Errorf("iptables: %s failed: %v", command, err)
		log.Error(output.String())
		return fmt.Errorf("backend: iptables: %s: %w: %s", command, err, output.String())
	}

	return nil
}
