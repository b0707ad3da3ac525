// Package manifest parses the INI-like text format shared by the parameter and operations
// manifests.
//
// A manifest is a sequence of bracketed section headers, each followed by key = value
// entries:
//
//	; comment
//	[default]
//	db_name = app
//	motd = "hello \"world\""
//	body = first line \
//	second line
//
// A trailing backslash continues the value onto the next line unless that line is a section
// header or an entry of its own, so root = C:\ followed by another entry keeps the backslash.
// A comment may follow a section header: [default] ; shared values.
//
// The parser keeps declaration order and line numbers. It does not interpret values; that is
// the job of the expr package.
package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ValidKey reports whether s can be used as a manifest key, parameter name or argument name.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

// Entry is a single key = value line.
type Entry struct {
	Key   string
	Value string
	// Line is the 1-based line of the key. Continued values start on this line.
	Line int
}

// Section is a bracketed header and the entries that follow it.
type Section struct {
	// Header is the trimmed text between the brackets.
	Header  string
	Line    int
	Entries []Entry
}

// Name returns the first word of the header.
func (s Section) Name() string {
	name, _, _ := strings.Cut(s.Header, " ")

	return name
}

// Label returns the header text after the first word, if any.
func (s Section) Label() string {
	_, label, _ := strings.Cut(s.Header, " ")

	return strings.TrimSpace(label)
}

// Document is a parsed manifest.
type Document struct {
	// Source names where the text came from, usually a file path.
	Source   string
	Sections []Section
}

// ParseError reports a malformed manifest line.
type ParseError struct {
	Source string
	Line   int
	Text   string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	src := e.Source
	if src == "" {
		src = "manifest"
	}
	if e.Text == "" {
		return fmt.Sprintf("%s:%d: %s", src, e.Line, e.Reason)
	}

	return fmt.Sprintf("%s:%d: %s: %q", src, e.Line, e.Reason, e.Text)
}

// Parse parses manifest text. The source is only used in error messages.
func Parse(source, text string) (*Document, error) {
	doc := &Document{Source: source}
	perr := func(line int, raw, reason string) error {
		return &ParseError{Source: source, Line: line, Text: strings.TrimSpace(raw), Reason: reason}
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var current *Section
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		raw := lines[i]
		line := strings.TrimSpace(raw)

		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}

		if line[0] == '[' {
			end := strings.IndexByte(line, ']')
			if end < 0 {
				return nil, perr(lineNo, raw, "unterminated section header")
			}
			if rest := strings.TrimSpace(line[end+1:]); rest != "" && rest[0] != ';' && rest[0] != '#' {
				return nil, perr(lineNo, raw, "unexpected text after section header")
			}
			header := strings.Join(strings.Fields(line[1:end]), " ")
			if header == "" {
				return nil, perr(lineNo, raw, "empty section header")
			}
			doc.Sections = append(doc.Sections, Section{Header: header, Line: lineNo})
			current = &doc.Sections[len(doc.Sections)-1]

			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, perr(lineNo, raw, "expected key = value")
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, perr(lineNo, raw, "missing key")
		}
		if !ValidKey(key) {
			return nil, perr(lineNo, raw, "invalid key "+key)
		}
		if current == nil {
			return nil, perr(lineNo, raw, "entry outside of a section")
		}

		value = strings.TrimSpace(value)
		for strings.HasSuffix(value, `\`) {
			if i+1 == len(lines) {
				return nil, perr(lineNo, raw, "line continuation at end of input")
			}
			next := strings.TrimSpace(lines[i+1])
			if startsEntry(next) {
				// The backslash belongs to the value, e.g. root = C:\
				break
			}
			i++
			value = strings.TrimSuffix(value, `\`) + "\n" + next
		}

		unquoted, err := unquote(value)
		if err != nil {
			return nil, perr(lineNo, raw, err.Error())
		}

		current.Entries = append(current.Entries, Entry{Key: key, Value: unquoted, Line: lineNo})
	}

	return doc, nil
}

// startsEntry reports whether line is a section header or a key = value entry, which ends a
// line continuation.
func startsEntry(line string) bool {
	if strings.HasPrefix(line, "[") {
		return true
	}
	key, _, ok := strings.Cut(line, "=")

	return ok && ValidKey(strings.TrimSpace(key))
}

// unquote strips one level of matching quotes. Double quoted values support \" and \\ escapes.
func unquote(v string) (string, error) {
	if v == "" {
		return v, nil
	}
	q := v[0]
	if q != '"' && q != '\'' {
		return v, nil
	}
	if len(v) < 2 || v[len(v)-1] != q {
		return "", fmt.Errorf("unterminated quoted value")
	}
	inner := v[1 : len(v)-1]
	if q == '\'' {
		return inner, nil
	}

	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) && (inner[i+1] == '"' || inner[i+1] == '\\') {
			b.WriteByte(inner[i+1])
			i++

			continue
		}
		if c == '"' {
			return "", fmt.Errorf("unescaped quote in value")
		}
		b.WriteByte(c)
	}

	return b.String(), nil
}
