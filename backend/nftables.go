package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Nftables applies a compiled ruleset with `nft -f <file>`.
type Nftables struct {
	rules []string
}

var _ Backend = (*Nftables)(nil)

func NewNftables(rules []string) Backend {
	return &Nftables{rules: rules}
}

func (n *Nftables) Name() string { return "nftables" }

func (n *Nftables) Apply(ctx context.Context, dryRun bool) error {
	script := strings.Join(n.rules, "\n") + "\n"

	if dryRun {
		log.Infof("nftables: dry-run, would apply %d statements:\n%s", len(n.rules), script)
		return nil
	}

	f, err := os.CreateTemp("", "dfwd-nft-*.conf")
	if err != nil {
		return fmt.Errorf("backend: nftables: create temp ruleset: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return fmt.Errorf("backend: nftables: write temp ruleset: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("backend: nftables: close temp ruleset: %w", err)
	}

	cmd := exec.CommandContext(ctx, "nft", "-f", f.Name())

	log.Infof("nftables: applying %d statements", len(n.rules))

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		log.Errorf("nftables: apply failed: %v", err)
		log.Error(output.String())
		return fmt.Errorf("backend: nftables: nft -f: %w: %s", err, output.String())
	}

	return nil
}

// ListRuleset runs `nft list ruleset`, used by the compiler to check whether
// custom-table marker rules were already inserted on a previous run.
func ListRuleset(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "nft", "list", "ruleset")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Errorf("nftables: list ruleset failed: %v", err)
		log.Error(stderr.String())
		return "", fmt.Errorf("backend: nftables: list ruleset: %w", err)
	}

	return stdout.String(), nil
}
