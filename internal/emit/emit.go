// Package emit writes the tool's structured, token-prefixed event log:
// one line per event, `TOKEN key=value key="quoted value" …`, to an
// io.Writer (production default is os.Stdout; tests capture a
// bytes.Buffer). Grounded on the teacher's convention of keeping output
// formatting as a thin collaborator distinct from the core diagnosis
// logic (spec.md §1's "thin collaborators only" list).
package emit

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Token names the sixteen event kinds this tool ever writes.
type Token string

// Tokens, in roughly the order a run produces them.
const (
	RunStart        Token = "RUN_START"
	RuntimeLoaded   Token = "RUNTIME_LOADED"
	DebugString     Token = "DEBUG_STRING"
	RunEnd          Token = "RUN_END"
	StaticStart     Token = "STATIC_START"
	SearchOrder     Token = "SEARCH_ORDER"
	StaticImport    Token = "STATIC_IMPORT"
	StaticFound     Token = "STATIC_FOUND"
	StaticMissing   Token = "STATIC_MISSING"
	StaticBadImage  Token = "STATIC_BAD_IMAGE"
	SearchPath      Token = "SEARCH_PATH"
	DynamicMissing  Token = "DYNAMIC_MISSING"
	FirstBreak      Token = "FIRST_BREAK"
	Summary         Token = "SUMMARY"
	Note            Token = "NOTE"
	StaticEnd       Token = "STATIC_END"
)

// Field is one key=value pair on a line. Bareword/hex-literal fields are
// written unquoted; Quoted fields are always double-quoted with escaping.
type Field struct {
	Key    string
	Value  string
	Quoted bool
}

// Bare builds an unquoted bareword or numeric-literal field.
func Bare(key, value string) Field { return Field{Key: key, Value: value} }

// Hex builds an unquoted hex-literal field (0x-prefixed, lowercase).
func Hex(key string, value uint32) Field {
	return Field{Key: key, Value: fmt.Sprintf("0x%x", value)}
}

// Hex64 builds an unquoted hex-literal field for a 64-bit value, such as a
// module base address on a 64-bit target.
func Hex64(key string, value uint64) Field {
	return Field{Key: key, Value: fmt.Sprintf("0x%x", value)}
}

// Int builds an unquoted decimal field.
func Int(key string, value int64) Field {
	return Field{Key: key, Value: strconv.FormatInt(value, 10)}
}

// Quote builds a double-quoted, escaped textual field.
func Quote(key, value string) Field { return Field{Key: key, Value: value, Quoted: true} }

// Path builds a quoted field with `\\?\` / `\\?\UNC\` extended-length
// prefixes stripped, per §6's output contract.
func Path(key, value string) Field { return Quote(key, StripExtendedPrefix(value)) }

// StripExtendedPrefix removes a leading `\\?\UNC\` or `\\?\` from path.
func StripExtendedPrefix(path string) string {
	const uncPrefix = `\\?\UNC\`
	const extPrefix = `\\?\`
	if strings.HasPrefix(path, uncPrefix) {
		return `\\` + path[len(uncPrefix):]
	}
	if strings.HasPrefix(path, extPrefix) {
		return path[len(extPrefix):]
	}
	return path
}

// Writer serializes token-prefixed lines to an underlying io.Writer.
type Writer struct {
	w io.Writer
}

// New wraps w.
func New(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Emit writes one line: the token followed by its fields in the order
// given.
func (e *Writer) Emit(token Token, fields ...Field) {
	var b strings.Builder
	b.WriteString(string(token))
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		if f.Quoted {
			b.WriteByte('"')
			b.WriteString(escape(f.Value))
			b.WriteByte('"')
		} else {
			b.WriteString(f.Value)
		}
	}
	b.WriteByte('\n')
	io.WriteString(e.w, b.String())
}

// escape applies the §6 escaping contract: backslash, double quote,
// newline, carriage return, and tab are backslash-escaped.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
