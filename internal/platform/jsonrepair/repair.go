// Package jsonrepair recovers structure from truncated or malformed JSON
// produced by a text-generation model. It is a pure function over text: it
// never errors, and prefers the most information-preserving recovery that
// yields strictly parseable JSON.
package jsonrepair

import (
	"encoding/json"
	"strings"
)

const excerptLimit = 200

// Repair returns strictly parseable JSON derived from raw, plus a degraded
// flag set only when every structural recovery failed and the fallback
// envelope was produced. Valid input is returned unchanged, so Repair is
// idempotent.
func Repair(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if json.Valid([]byte(text)) {
		return text, false
	}

	text = stripFence(text)
	if json.Valid([]byte(text)) {
		return text, false
	}

	if out := stripTrailingCommas(text); json.Valid([]byte(out)) {
		return out, false
	}

	if out, ok := structuralRepair(text); ok {
		return out, false
	}

	if out, ok := recoverTruncatedArray(text); ok {
		return out, false
	}

	// Best-effort: retry the chain on the substring starting at the first
	// opening brace, in case the model wrapped the object in prose.
	if idx := strings.IndexByte(text, '{'); idx > 0 {
		sub := text[idx:]
		if out := stripTrailingCommas(sub); json.Valid([]byte(out)) {
			return out, false
		}
		if out, ok := structuralRepair(sub); ok {
			return out, false
		}
		if out, ok := recoverTruncatedArray(sub); ok {
			return out, false
		}
	}

	return fallback(raw), true
}

// stripFence removes a single markdown code fence wrapper, language-tagged or
// not. Anything else is returned unchanged.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := text[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// The first fence line may carry a language tag ("```json").
		body = body[nl+1:]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// stripTrailingCommas removes commas that directly precede a closing brace or
// bracket, honoring string boundaries.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			b.WriteByte(c)
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && isSpace(text[j]) {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// scanState is the finite-state scan shared by the structural steps: string
// tracking with escape handling plus a stack of open braces/brackets.
type scanState struct {
	stack       []byte
	inString    bool
	escape      bool
	stringStart int
	lastComma   int
	lastOpen    int
	lastColon   int
}

func scan(text string) scanState {
	st := scanState{stringStart: -1, lastComma: -1, lastOpen: -1, lastColon: -1}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if st.inString {
			if st.escape {
				st.escape = false
			} else if c == '\\' {
				st.escape = true
			} else if c == '"' {
				st.inString = false
			}
			continue
		}
		switch c {
		case '"':
			st.inString = true
			st.stringStart = i
		case '{', '[':
			st.stack = append(st.stack, c)
			st.lastOpen = i
		case '}', ']':
			if len(st.stack) > 0 {
				st.stack = st.stack[:len(st.stack)-1]
			}
		case ',':
			st.lastComma = i
		case ':':
			st.lastColon = i
		}
	}
	return st
}

// structuralRepair closes an interrupted scan: unterminated property values
// are dropped whole rather than guessed at, unterminated non-value strings
// get their quote closed, and every still-open brace/bracket is closed in
// reverse order.
func structuralRepair(text string) (string, bool) {
	st := scan(text)

	if st.inString {
		if isPropertyValue(text, st.stringStart) {
			text = dropIncompleteProperty(text, st)
		} else {
			text += `"`
		}
	} else if cut, drop := danglingValue(text, st); drop {
		text = dropIncompletePropertyAt(text, cut)
	}

	text = closeOpen(text)
	text = stripTrailingCommas(text)
	if json.Valid([]byte(text)) {
		return text, true
	}
	return "", false
}

// isPropertyValue reports whether the string opening at quote is the value
// side of a key/value pair, i.e. the previous significant byte is a colon.
func isPropertyValue(text string, quote int) bool {
	for i := quote - 1; i >= 0; i-- {
		if isSpace(text[i]) {
			continue
		}
		return text[i] == ':'
	}
	return false
}

// danglingValue reports whether the text ends in an incomplete bare value
// after the last colon (a cut-off literal such as "tru", or nothing at all),
// returning the cut point for dropping the property.
func danglingValue(text string, st scanState) (int, bool) {
	if st.lastColon < st.lastComma || st.lastColon < st.lastOpen {
		return 0, false
	}
	if st.lastColon < 0 {
		return 0, false
	}
	tail := strings.TrimSpace(text[st.lastColon+1:])
	if tail == "" {
		return st.lastColon, true
	}
	if completeScalar(tail) {
		return 0, false
	}
	return st.lastColon, true
}

func completeScalar(tok string) bool {
	return json.Valid([]byte(tok))
}

// dropIncompleteProperty removes the property containing the unterminated
// string, backing up to the preceding comma or opening bracket.
func dropIncompleteProperty(text string, st scanState) string {
	cut := st.lastComma
	if st.lastOpen > cut {
		// First property in its container: keep the bracket, drop the rest.
		return text[:st.lastOpen+1]
	}
	if cut < 0 {
		return ""
	}
	return text[:cut]
}

func dropIncompletePropertyAt(text string, colon int) string {
	for i := colon - 1; i >= 0; i-- {
		switch text[i] {
		case ',':
			return text[:i]
		case '{', '[':
			return text[:i+1]
		}
	}
	return ""
}

// closeOpen rescans text and appends one closing character per still-open
// bracket, innermost first.
func closeOpen(text string) string {
	st := scan(text)
	if st.inString {
		text += `"`
		st.inString = false
	}
	var b strings.Builder
	b.WriteString(text)
	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// recoverTruncatedArray cuts everything after the last fully-closed object
// inside an array ("},"), then re-closes the remaining structure.
func recoverTruncatedArray(text string) (string, bool) {
	idx := strings.LastIndex(text, "},")
	if idx < 0 {
		return "", false
	}
	out := closeOpen(text[:idx+1])
	out = stripTrailingCommas(out)
	if json.Valid([]byte(out)) {
		return out, true
	}
	return "", false
}

// fallback builds the minimal valid envelope: a truncated excerpt of the raw
// text as the summary, no recommendations, degraded status. This is the only
// step that cannot fail.
func fallback(raw string) string {
	excerpt := strings.TrimSpace(raw)
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit]
	}
	out, err := json.Marshal(map[string]interface{}{
		"summary":         excerpt,
		"recommendations": []interface{}{},
		"status":          "degraded",
	})
	if err != nil {
		return `{"summary":"","recommendations":[],"status":"degraded"}`
	}
	return string(out)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
