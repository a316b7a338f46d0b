package scpi

import (
	"strings"
	"unicode"
)

// Matches reports whether the command header fits pattern. Patterns use the
// usual SCPI notation: upper-case letters are the short form, the whole word
// is the long form, and bracketed nodes are optional, e.g.
// "SOURce#:CURRent:LIMit[:AMPLitude]". A '#' stands for an optional numeric
// suffix defaulting to 1. Queries are matched by a trailing '?'.
func (c *Command) Matches(pattern string) bool {
	query := strings.HasSuffix(pattern, "?")
	if query != c.Query {
		return false
	}
	pattern = strings.TrimSuffix(pattern, "?")

	if strings.HasPrefix(pattern, "*") {
		return c.Common != "" && strings.EqualFold(pattern[1:], c.Common)
	}
	if c.Common != "" {
		return false
	}
	return matchNodes(parsePattern(pattern), c.Nodes)
}

type patternNode struct {
	short    string
	long     string
	suffix   bool
	optional bool
}

func parsePattern(pattern string) []patternNode {
	var nodes []patternNode
	for _, part := range splitPattern(pattern) {
		var n patternNode
		if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") {
			n.optional = true
			part = strings.Trim(part, "[]")
		}
		part = strings.TrimPrefix(part, ":")
		if strings.HasSuffix(part, "#") {
			n.suffix = true
			part = strings.TrimSuffix(part, "#")
		}
		n.long = strings.ToUpper(part)
		for _, r := range part {
			if !unicode.IsUpper(r) {
				break
			}
			n.short += string(r)
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// splitPattern splits on ':' outside brackets so "A:[:B]:C" yields
// "A", "[:B]", "C".
func splitPattern(pattern string) []string {
	var parts []string
	var cur strings.Builder
	depth := 0
	for _, r := range pattern {
		switch {
		case r == '[':
			if depth == 0 && cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			depth++
			cur.WriteRune(r)
		case r == ']':
			depth--
			cur.WriteRune(r)
			if depth == 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		case r == ':' && depth == 0:
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func matchNodes(pattern []patternNode, nodes []Node) bool {
	if len(pattern) == 0 {
		return len(nodes) == 0
	}
	p := pattern[0]
	if len(nodes) > 0 && p.matches(nodes[0]) && matchNodes(pattern[1:], nodes[1:]) {
		return true
	}
	return p.optional && matchNodes(pattern[1:], nodes)
}

func (p patternNode) matches(n Node) bool {
	name := strings.ToUpper(n.Name)
	if name != p.short && name != p.long {
		return false
	}
	if !p.suffix {
		return n.Suffix == 0
	}
	return n.Suffix == 0 || n.Suffix == 1
}
