// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tagging

import (
	"strings"
)

// Rule maps a substring key to a value.
type Rule struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Table is an ordered list of rules in declaration order.
type Table []Rule

// ParseTable reads one "key:value" rule per line. Colons that belong to a URL
// scheme ("://"), a port (":2710/") or a drive letter ("C:\\") do not split, so
// both sides may be URLs. Blank lines, '#' comments and lines without both a key
// and a value are skipped.
func ParseTable(text string) Table {
	var table Table

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := separatorIndex(line)
		if idx <= 0 || idx == len(line)-1 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" || value == "" {
			continue
		}

		table = append(table, Rule{Key: key, Value: value})
	}

	return table
}

func separatorIndex(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != ':' {
			continue
		}
		rest := line[i+1:]
		switch {
		case strings.HasPrefix(rest, "//"):
			continue
		case isPort(rest):
			continue
		case i == 1 && (strings.HasPrefix(rest, "\\") || strings.HasPrefix(rest, "/")) && isLetter(line[0]):
			continue
		}
		return i
	}
	return -1
}

// isPort reports whether s starts with digits followed by '/' or ':'.
func isPort(s string) bool {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == 0 || n > 5 || n == len(s) {
		return false
	}
	return s[n] == '/' || s[n] == ':'
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// FirstMatch returns the value of the first rule whose key occurs in s.
func (t Table) FirstMatch(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, rule := range t {
		if strings.Contains(s, rule.Key) {
			return rule.Value, true
		}
	}
	return "", false
}

// AllMatches returns the values of every rule whose key occurs in s, in table order.
func (t Table) AllMatches(s string) []string {
	if s == "" {
		return nil
	}
	var values []string
	for _, rule := range t {
		if strings.Contains(s, rule.Key) {
			values = append(values, rule.Value)
		}
	}
	return values
}
