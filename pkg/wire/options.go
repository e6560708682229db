package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Rule identifies how an option is reconciled during Negotiate phase
// (spec §4.11).
type Rule int

const (
	// RuleMin takes the smaller of two bounded integers (queue depth, max
	// frame size, and similar capacity limits).
	RuleMin Rule = iota
	// RuleAnd requires both sides to agree for a strict boolean like
	// orderedExecution: the feature only applies if neither side opts out.
	RuleAnd
	// RuleOr is used for permissive booleans like digestData: the feature
	// applies if either side requested it.
	RuleOr
	// RuleStringList intersects two comma-separated preference-ordered
	// lists (e.g. digest or compression algorithm names), keeping the
	// local side's relative preference order.
	RuleStringList
	// RuleLocal marks an option that is never negotiated: it is tagged
	// `.local`, `.client` or `.server` and applies only to the side that
	// set it.
	RuleLocal
)

// Spec describes one negotiable option by name and reconciliation rule.
type Spec struct {
	Name string
	Rule Rule
}

// ParseProposal decodes a `name=value;name=value;...` proposal string into
// an ordered list of (name, value) pairs.
func ParseProposal(s string) ([][2]string, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ";")
	pairs := make([][2]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			return nil, fmt.Errorf("wire: malformed option pair %q", p)
		}
		pairs = append(pairs, [2]string{p[:eq], p[eq+1:]})
	}
	return pairs, nil
}

// EncodeProposal renders an ordered list of (name, value) pairs back into
// the wire's `name=value;name=value;...` form.
func EncodeProposal(pairs [][2]string) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

func pairsToMap(pairs [][2]string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p[0]] = p[1]
	}
	return m
}

// isNeverNegotiated reports whether name carries a `.local`, `.client` or
// `.server` tag, which per spec §4.11 is never reconciled between peers.
func isNeverNegotiated(name string) bool {
	return strings.HasSuffix(name, ".local") ||
		strings.HasSuffix(name, ".client") ||
		strings.HasSuffix(name, ".server")
}

// Negotiate reconciles the local and peer proposals according to specs,
// producing the resulting option set. Options not named in specs but
// tagged local/client/server pass through from the local proposal
// unchanged; any other unrecognized option is an error, since an
// unreconciled option could silently diverge between the two sides.
func Negotiate(specs []Spec, local, peer string) ([][2]string, error) {
	localPairs, err := ParseProposal(local)
	if err != nil {
		return nil, fmt.Errorf("wire: local proposal: %w", err)
	}
	peerPairs, err := ParseProposal(peer)
	if err != nil {
		return nil, fmt.Errorf("wire: peer proposal: %w", err)
	}
	peerMap := pairsToMap(peerPairs)

	specByName := make(map[string]Spec, len(specs))
	for _, s := range specs {
		specByName[s.Name] = s
	}

	result := make([][2]string, 0, len(localPairs))
	seen := make(map[string]bool, len(localPairs))

	for _, lp := range localPairs {
		name := lp[0]
		seen[name] = true
		if isNeverNegotiated(name) {
			result = append(result, lp)
			continue
		}
		spec, ok := specByName[name]
		if !ok {
			return nil, fmt.Errorf("wire: unrecognized negotiable option %q", name)
		}
		pv, hasPeer := peerMap[name]
		if !hasPeer {
			result = append(result, lp)
			continue
		}
		value, err := reconcile(spec.Rule, lp[1], pv)
		if err != nil {
			return nil, fmt.Errorf("wire: negotiate %q: %w", name, err)
		}
		result = append(result, [2]string{name, value})
	}

	// Options the peer proposed that we did not: local/client/server tags
	// pass through only from their own side, so a peer-only local-tagged
	// option is dropped; anything else the peer proposed but we didn't
	// mention contributes nothing (our absence of a value is the
	// conservative default).
	_ = seen
	return result, nil
}

func reconcile(rule Rule, a, b string) (string, error) {
	switch rule {
	case RuleMin:
		ai, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return "", err
		}
		bi, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return "", err
		}
		if ai < bi {
			return a, nil
		}
		return b, nil
	case RuleAnd:
		ab, err := strconv.ParseBool(a)
		if err != nil {
			return "", err
		}
		bb, err := strconv.ParseBool(b)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(ab && bb), nil
	case RuleOr:
		ab, err := strconv.ParseBool(a)
		if err != nil {
			return "", err
		}
		bb, err := strconv.ParseBool(b)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(ab || bb), nil
	case RuleStringList:
		return intersectPreferenceOrder(a, b), nil
	default:
		return "", fmt.Errorf("wire: option is not negotiable under rule %d", rule)
	}
}

// intersectPreferenceOrder returns the elements of a (comma-separated,
// most-preferred first) that also appear in b, preserving a's order.
func intersectPreferenceOrder(a, b string) string {
	bSet := make(map[string]bool)
	for _, v := range strings.Split(b, ",") {
		if v != "" {
			bSet[v] = true
		}
	}
	var kept []string
	for _, v := range strings.Split(a, ",") {
		if v != "" && bSet[v] {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ",")
}
