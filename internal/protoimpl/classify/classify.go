// Package classify supplies the minimal statement classifier spec.md's
// own description credits to the source's dbfwfilter-style query
// classifier (SPEC_FULL.md §4-9, "Supplement dropped features"). It
// distinguishes read statements from write statements and produces the
// canonical fingerprint internal/cache keys on, grounded on the
// teacher's server/sql_validator.go detectCommand/validateCommand pair
// and server/query_cache.go's normalizeQuery.
package classify

import (
	"regexp"
	"strings"

	"github.com/lordbasex/routingcore/internal/proto"
)

// leadingComments strips SQL line/block comments and whitespace before
// the first keyword, mirroring the teacher's detectCommand.
var leadingComments = regexp.MustCompile(`(?s)^(\s|/\*.*?\*/|--[^\n]*\n)*`)

// literalRun matches single- or double-quoted strings and bare numeric
// literals, collapsed to a placeholder when building the cache
// fingerprint so that two statements differing only in bound values
// collide on the same canonical form (spec glossary: "Canonical form").
var literalRun = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"|\b\d+\b`)

// readCommands are DQL-class keywords: the router treats a statement
// beginning with one of these as a candidate for read-replica routing.
var readCommands = map[string]bool{
	"SELECT": true, "SHOW": true, "DESCRIBE": true, "DESC": true, "EXPLAIN": true,
}

// Command extracts the first keyword of query, upper-cased, after
// stripping leading comments and whitespace (teacher: detectCommand).
func Command(query string) string {
	normalized := leadingComments.ReplaceAllString(strings.TrimSpace(query), "")
	normalized = strings.TrimSpace(normalized)
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}

// IsWrite reports whether command touches data or schema and therefore
// must route to a master/write target rather than a replica.
func IsWrite(command string) bool {
	return !readCommands[command]
}

// Canonicalize collapses whitespace and replaces literal values with a
// placeholder, producing the cache key text spec §3/§4.3 calls the
// statement's canonical form (teacher: normalizeQuery, extended with
// literal stripping per spec's "literal values stripped").
func Canonicalize(query string) string {
	folded := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return literalRun.ReplaceAllString(folded, "?")
}

// Classify implements one call of the C6 ProtocolModule contract's
// classify(packet) operation (spec §4.6) for a single already-extracted
// SQL statement. raw is kept verbatim so the router/codec can forward it
// unmodified when no rewrite is required.
func Classify(raw []byte) proto.Classification {
	text := string(raw)
	cmd := Command(text)
	return proto.Classification{
		Kind:                cmd,
		Fingerprint:         Canonicalize(text),
		IsWrite:             IsWrite(cmd),
		TouchesSessionState: touchesSessionState(cmd, text),
		Raw:                 raw,
	}
}

// touchesSessionState flags statements the session must track itself
// rather than hand off to the cache/router blindly: transaction control
// and session variable assignment (spec §4.3 guard "exclusion class,
// e.g. autocommit toggles").
func touchesSessionState(cmd, text string) bool {
	switch cmd {
	case "BEGIN", "START", "COMMIT", "ROLLBACK", "SET", "USE":
		return true
	}
	return strings.Contains(strings.ToUpper(text), "AUTOCOMMIT")
}
