package rule

import (
	"fmt"
	"strconv"
	"strings"
)

// dfwMark is the packet mark nftables rules use to tag processed packets.
const dfwMark = "0xdf"

// Match holds the optional match criteria a Builder accumulates.
type Match struct {
	SourceV4, DestinationV4 string
	SourceV6, DestinationV6 string
	InInterface             string
	OutInterface            string
	NotInInterface          bool
	NotOutInterface         bool
	Protocol                string
	SourcePort              int
	DestinationPort         int
	Verbatim                string
	Comment                 string
}

// Verdict is the terminal action of a rule: either a named verdict (accept,
// drop, ...) or a DNAT target. Exactly one of the two must be set.
type Verdict struct {
	Name       string
	DNATTarget string
}

// Builder accumulates match criteria and a verdict, then renders a single
// backend rule. It is pure: it never inspects topology or spawns processes.
type Builder struct {
	match   Match
	verdict Verdict
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) Source(v4, v6 string) *Builder {
	b.match.SourceV4 = v4
	b.match.SourceV6 = v6
	return b
}

func (b *Builder) Destination(v4, v6 string) *Builder {
	b.match.DestinationV4 = v4
	b.match.DestinationV6 = v6
	return b
}

func (b *Builder) InInterface(name string, negate bool) *Builder {
	b.match.InInterface = name
	b.match.NotInInterface = negate
	return b
}

func (b *Builder) OutInterface(name string, negate bool) *Builder {
	b.match.OutInterface = name
	b.match.NotOutInterface = negate
	return b
}

func (b *Builder) Protocol(p string) *Builder {
	b.match.Protocol = p
	return b
}

func (b *Builder) SourcePort(p int) *Builder {
	b.match.SourcePort = p
	return b
}

func (b *Builder) DestinationPort(p int) *Builder {
	b.match.DestinationPort = p
	return b
}

func (b *Builder) Verbatim(frag string) *Builder {
	b.match.Verbatim = frag
	return b
}

func (b *Builder) Comment(c string) *Builder {
	b.match.Comment = c
	return b
}

func (b *Builder) Accept() *Builder {
	b.verdict = Verdict{Name: "accept"}
	return b
}

func (b *Builder) Drop() *Builder {
	b.verdict = Verdict{Name: "drop"}
	return b
}

func (b *Builder) Verdict(name string) *Builder {
	b.verdict = Verdict{Name: name}
	return b
}

func (b *Builder) DNAT(target string) *Builder {
	b.verdict = Verdict{DNATTarget: target}
	return b
}

// hasAnyMatch reports whether at least one match field is set.
func (b *Builder) hasAnyMatch() bool {
	m := b.match
	return m.SourceV4 != "" || m.SourceV6 != "" ||
		m.DestinationV4 != "" || m.DestinationV6 != "" ||
		m.InInterface != "" || m.OutInterface != "" ||
		m.Protocol != "" || m.SourcePort != 0 || m.DestinationPort != 0 ||
		m.Verbatim != ""
}

func (b *Builder) protocol() string {
	if b.match.Protocol != "" {
		return b.match.Protocol
	}
	if b.match.SourcePort != 0 || b.match.DestinationPort != 0 {
		return "tcp"
	}
	return ""
}

// BuildNftables renders the accumulated criteria as a single nft rule
// statement (everything after `add rule <family> <table> <chain>`). Field
// emission order is: protocol+ports, ipv4 addresses, ipv6 addresses,
// interfaces, the unconditional mark-set, the verbatim fragment, the verdict
// or DNAT clause, then the comment.
func (b *Builder) BuildNftables(family Family) (string, error) {
	if !b.hasAnyMatch() {
		return "", ErrNoMatch
	}
	if b.verdict.Name == "" && b.verdict.DNATTarget == "" {
		return "", ErrNoVerdict
	}

	var args []string
	m := b.match

	if proto := b.protocol(); proto != "" {
		args = append(args, proto)
		if m.SourcePort != 0 {
			args = append(args, "sport", strconv.Itoa(m.SourcePort))
		}
		if m.DestinationPort != 0 {
			args = append(args, "dport", strconv.Itoa(m.DestinationPort))
		}
	}

	if m.SourceV4 != "" {
		args = append(args, "ip", "saddr", m.SourceV4)
	}
	if m.DestinationV4 != "" {
		args = append(args, "ip", "daddr", m.DestinationV4)
	}
	if m.SourceV6 != "" {
		args = append(args, "ip6", "saddr", m.SourceV6)
	}
	if m.DestinationV6 != "" {
		args = append(args, "ip6", "daddr", m.DestinationV6)
	}

	if m.InInterface != "" || m.OutInterface != "" {
		args = append(args, "meta")
		if m.InInterface != "" {
			args = append(args, "iifname", m.InInterface)
		}
		if m.OutInterface != "" {
			args = append(args, "oifname", m.OutInterface)
		}
	}

	args = append(args, "meta", "mark", "set", dfwMark)

	if m.Verbatim != "" {
		args = append(args, m.Verbatim)
	}

	if b.verdict.Name != "" {
		args = append(args, b.verdict.Name)
	} else {
		args = append(args, "dnat", b.verdict.DNATTarget)
	}

	if m.Comment != "" {
		args = append(args, fmt.Sprintf(`comment "%s"`, m.Comment))
	}

	return strings.Join(args, " "), nil
}

// BuildIptables renders the accumulated criteria as an iptables argument
// line (everything after `-A <chain>`). Family selects which address pair
// (v4/v6) is used, since an iptables rule only ever targets one family.
func (b *Builder) BuildIptables(family Family) (string, error) {
	if !b.hasAnyMatch() {
		return "", ErrNoMatch
	}
	if b.verdict.Name == "" && b.verdict.DNATTarget == "" {
		return "", ErrNoVerdict
	}

	var args []string
	m := b.match

	source, destination := m.SourceV4, m.DestinationV4
	if family == FamilyV6 {
		source, destination = m.SourceV6, m.DestinationV6
	}

	if source != "" {
		args = append(args, "-s", source)
	}
	if destination != "" {
		args = append(args, "-d", destination)
	}
	if m.InInterface != "" {
		if m.NotInInterface {
			args = append(args, "!")
		}
		args = append(args, "-i", m.InInterface)
	}
	if m.OutInterface != "" {
		if m.NotOutInterface {
			args = append(args, "!")
		}
		args = append(args, "-o", m.OutInterface)
	}

	if proto := b.protocol(); proto != "" {
		args = append(args, "-p", proto)
	}
	if m.SourcePort != 0 {
		args = append(args, "--sport", strconv.Itoa(m.SourcePort))
	}
	if m.DestinationPort != 0 {
		args = append(args, "--dport", strconv.Itoa(m.DestinationPort))
	}

	if m.Verbatim != "" {
		args = append(args, m.Verbatim)
	}

	if b.verdict.Name != "" {
		args = append(args, "-j", strings.ToUpper(b.verdict.Name))
	} else {
		args = append(args, "-j", "DNAT", "--to-destination", b.verdict.DNATTarget)
	}

	if m.Comment != "" {
		args = append(args, "-m", "comment", "--comment", fmt.Sprintf("%q", m.Comment))
	}

	return strings.Join(args, " "), nil
}
