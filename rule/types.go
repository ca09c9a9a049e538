// Package rule builds backend-agnostic firewall rules from match criteria and
// renders them into either nftables statement text or iptables argument lines.
package rule

import "errors"

// Family distinguishes the IP version a rule applies to.
type Family string

const (
	FamilyV4 Family = "v4"
	FamilyV6 Family = "v6"
)

// Kind tags an IptablesRule as either a chain policy directive or an ordinary
// rule line, mirroring the two iptables-restore record shapes.
type Kind int

const (
	KindPolicy Kind = iota
	KindRuleLine
)

// IptablesRule is the iptables-only tagged value produced by the compiler:
// either a `:CHAIN POLICY [0:0]` directive or a verbatim rule line, scoped to
// a (table, chain, family).
type IptablesRule struct {
	Table  string
	Chain  string
	Family Family
	Kind   Kind
	Line   string // policy name for KindPolicy, full restore line (e.g. `-A CHAIN ...`, `-N CHAIN`) for KindRuleLine
}

// ErrNoMatch is returned by Build{Iptables,Nftables} when none of the match
// fields (address, interface, protocol, port, verbatim) were set.
var ErrNoMatch = errors.New("rule: no match criteria set")

// ErrNoVerdict is returned when neither a verdict nor a DNAT target was set.
var ErrNoVerdict = errors.New("rule: no verdict or dnat target set")
