package testutil

import (
	"fmt"
	"strconv"
	"strings"
)

// matchFilter evaluates an RFC 4515 filter string against an entry. The
// subset covers what the account queries use: and, or, not, equality,
// presence and substring matches.
func matchFilter(filter string, entry *Entry) (bool, error) {
	filter = strings.TrimSpace(filter)
	if !strings.HasPrefix(filter, "(") || !strings.HasSuffix(filter, ")") {
		return false, fmt.Errorf("filter %q is not parenthesized", filter)
	}
	inner := filter[1 : len(filter)-1]
	if inner == "" {
		return false, fmt.Errorf("empty filter")
	}

	switch inner[0] {
	case '&':
		subs, err := splitFilters(inner[1:])
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := matchFilter(sub, entry)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case '|':
		subs, err := splitFilters(inner[1:])
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := matchFilter(sub, entry)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case '!':
		ok, err := matchFilter(inner[1:], entry)
		return !ok, err
	default:
		attr, pattern, found := strings.Cut(inner, "=")
		if !found {
			return false, fmt.Errorf("filter component %q has no comparator", inner)
		}
		return matchAttribute(entry, attr, pattern), nil
	}
}

// splitFilters splits "(a)(b)(c)" into its balanced components.
func splitFilters(s string) ([]string, error) {
	var subs []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			if depth == 0 {
				start = i
			}
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced filter list %q", s)
			}
			if depth == 0 {
				subs = append(subs, s[start:i+1])
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced filter list %q", s)
	}
	return subs, nil
}

// matchAttribute compares the pattern against every value of the attribute.
// Attribute names and values compare case-insensitively, as directory
// servers do for the attribute types used here. "*" alone is a presence
// test; embedded "*" are substring wildcards.
func matchAttribute(entry *Entry, attr, pattern string) bool {
	var values []string
	for name, vals := range entry.Attributes {
		if strings.EqualFold(name, attr) {
			values = vals
			break
		}
	}
	if pattern == "*" {
		return len(values) > 0
	}
	segments := strings.Split(pattern, "*")
	for i, segment := range segments {
		segments[i] = strings.ToLower(unescapeFilterValue(segment))
	}
	for _, value := range values {
		if matchSegments(strings.ToLower(value), segments) {
			return true
		}
	}
	return false
}

func matchSegments(value string, segments []string) bool {
	if len(segments) == 1 {
		return value == segments[0]
	}
	if !strings.HasPrefix(value, segments[0]) {
		return false
	}
	value = value[len(segments[0]):]
	last := segments[len(segments)-1]
	for _, segment := range segments[1 : len(segments)-1] {
		idx := strings.Index(value, segment)
		if idx < 0 {
			return false
		}
		value = value[idx+len(segment):]
	}
	return strings.HasSuffix(value, last)
}

// unescapeFilterValue reverses the \XX hex escaping applied to filter
// argument values.
func unescapeFilterValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+2 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
