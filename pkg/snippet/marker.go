package snippet

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// markerTag opens every structural marker comment
const markerTag = "@designer"

// Marker kinds
const (
	markerDevice = "device"
	markerPage   = "page"
	markerWidget = "widget"
)

const markerVersion = "1"

const hexDigits = "0123456789ABCDEF"

type markerField struct {
	key   string
	value string
}

// marker is a decoded "@designer kind|key=value|..." comment
type marker struct {
	kind   string
	fields map[string]string
}

// formatMarker renders a marker as a C++ line comment
func formatMarker(kind string, fields ...markerField) string {
	var b strings.Builder
	b.WriteString("// ")
	b.WriteString(markerTag)
	b.WriteByte(' ')
	b.WriteString(kind)
	for _, f := range fields {
		b.WriteByte('|')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(escapeMarkerValue(f.value))
	}
	return b.String()
}

// escapeMarkerValue percent-encodes the field separator, the escape
// character itself and control characters, so a value can never split a
// field or end the comment line early.
func escapeMarkerValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '|' || c < 0x20 || c == 0x7f {
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unescapeMarkerValue(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape at offset %d", i)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("invalid escape %q", s[i:i+3])
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// parseMarker decodes the text of a line comment. It returns ok=false when
// the comment is not a designer marker at all, and an error when it is one
// but cannot be decoded.
func parseMarker(comment string) (m *marker, ok bool, err error) {
	text := strings.TrimSpace(comment)
	if !strings.HasPrefix(text, markerTag) {
		return nil, false, nil
	}
	rest := text[len(markerTag):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		// some other tag that merely starts with ours
		return nil, false, nil
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil, true, fmt.Errorf("empty marker")
	}

	parts := strings.Split(rest, "|")
	m = &marker{kind: parts[0], fields: make(map[string]string, len(parts)-1)}
	switch m.kind {
	case markerDevice, markerPage, markerWidget:
	default:
		return nil, true, fmt.Errorf("unknown marker kind %q", m.kind)
	}

	for _, part := range parts[1:] {
		key, raw, found := strings.Cut(part, "=")
		if !found || key == "" {
			return nil, true, fmt.Errorf("%s marker: malformed field %q", m.kind, part)
		}
		if _, dup := m.fields[key]; dup {
			return nil, true, fmt.Errorf("%s marker: duplicate field %q", m.kind, key)
		}
		value, err := unescapeMarkerValue(raw)
		if err != nil {
			return nil, true, fmt.Errorf("%s marker: field %q: %w", m.kind, key, err)
		}
		if !utf8.ValidString(value) {
			return nil, true, fmt.Errorf("%s marker: field %q is not valid UTF-8", m.kind, key)
		}
		m.fields[key] = value
	}

	return m, true, nil
}

// expectFields checks that the marker carries exactly the given keys
func (m *marker) expectFields(keys ...string) error {
	if len(m.fields) != len(keys) {
		return fmt.Errorf("%s marker: expected %d fields, got %d", m.kind, len(keys), len(m.fields))
	}
	for _, k := range keys {
		if _, ok := m.fields[k]; !ok {
			return fmt.Errorf("%s marker: missing field %q", m.kind, k)
		}
	}
	return nil
}
