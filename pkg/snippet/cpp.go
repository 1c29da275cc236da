package snippet

import (
	"fmt"
	"regexp"
	"strings"
)

// cppQuote renders s as a C++ string literal. Control characters use
// three-digit octal escapes, which unlike \x never swallow following digits.
func cppQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
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
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\%03o`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// cppUnquote decodes a double-quoted C++ string literal
func cppUnquote(lit string) (string, error) {
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return "", fmt.Errorf("not a string literal: %s", lit)
	}
	body := lit[1 : len(lit)-1]
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("dangling escape in %s", lit)
		}
		switch e := body[i]; e {
		case '\\', '"', '\'', '?':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case 'x':
			v, n := 0, 0
			for i+1 < len(body) && n < 2 {
				d, ok := unhex(body[i+1])
				if !ok {
					break
				}
				v = v<<4 | int(d)
				i++
				n++
			}
			if n == 0 {
				return "", fmt.Errorf("empty hex escape in %s", lit)
			}
			b.WriteByte(byte(v))
		default:
			if e < '0' || e > '7' {
				return "", fmt.Errorf("unknown escape \\%c in %s", e, lit)
			}
			v := int(e - '0')
			for n := 1; n < 3 && i+1 < len(body) && body[i+1] >= '0' && body[i+1] <= '7'; n++ {
				v = v<<3 | int(body[i+1]-'0')
				i++
			}
			if v > 0xff {
				return "", fmt.Errorf("octal escape out of range in %s", lit)
			}
			b.WriteByte(byte(v))
		}
	}
	return b.String(), nil
}

// comment is a C++ line comment found in a lambda
type comment struct {
	pos  int
	text string
}

// lexed is a lambda with literals and comments blanked out. masked has the
// same length as the source, so offsets found in it index the source too.
type lexed struct {
	src      string
	masked   string
	comments []comment
}

// lexCpp blanks string and character literal contents with '_' (keeping the
// quotes) and comments with spaces (keeping newlines). Only line comments are
// collected, since markers are always emitted as line comments.
func lexCpp(src string) *lexed {
	out := []byte(src)
	var comments []comment

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src)
			} else {
				end += i
			}
			comments = append(comments, comment{pos: i, text: src[i+2 : end]})
			for j := i; j < end; j++ {
				out[j] = ' '
			}
			i = end

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				end = len(src)
			} else {
				end += i + 4
			}
			for j := i; j < end; j++ {
				if out[j] != '\n' {
					out[j] = ' '
				}
			}
			i = end

		case c == '"' || c == '\'':
			j := i + 1
			for j < len(src) && src[j] != c && src[j] != '\n' {
				if src[j] == '\\' && j+1 < len(src) && src[j+1] != '\n' {
					out[j] = '_'
					j++
				}
				out[j] = '_'
				j++
			}
			// unterminated literals stop at the end of the line
			if j < len(src) && src[j] == c {
				j++
			}
			i = j

		default:
			i++
		}
	}

	return &lexed{src: src, masked: string(out), comments: comments}
}

// matchBrace returns the offset of the brace closing the one at open, or -1
func (l *lexed) matchBrace(open int) int {
	depth := 0
	for i := open; i < len(l.masked); i++ {
		switch l.masked[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// branchHeader matches `if (id(designer_page) == "<page id>") {` on masked text.
// Group 1 spans the quoted page id.
var branchHeader = regexp.MustCompile(`\bif\s*\(\s*id\s*\(\s*` + PageGlobalID + `\s*\)\s*==\s*("[^"\n]*")\s*\)\s*\{`)

// branch is one page's slice of the rendering routine
type branch struct {
	pageID   string
	open     int
	close    int
	comments []comment
}

// branches extracts the page branches in order of appearance. Branches
// nested inside another branch are part of that branch's body.
func (l *lexed) branches() ([]branch, error) {
	var out []branch
	end := -1
	for _, m := range branchHeader.FindAllStringSubmatchIndex(l.masked, -1) {
		if m[0] < end {
			continue
		}
		open := m[1] - 1
		closeAt := l.matchBrace(open)
		if closeAt < 0 {
			return nil, fmt.Errorf("unterminated branch at offset %d", m[0])
		}
		id, err := cppUnquote(l.src[m[2]:m[3]])
		if err != nil {
			return nil, fmt.Errorf("branch at offset %d: %w", m[0], err)
		}
		b := branch{pageID: id, open: open, close: closeAt}
		for _, c := range l.comments {
			if c.pos > open && c.pos < closeAt {
				b.comments = append(b.comments, c)
			}
		}
		out = append(out, b)
		end = closeAt
	}
	return out, nil
}

// outsideComments returns the comments that are not inside any branch
func (l *lexed) outsideComments(bs []branch) []comment {
	var out []comment
	for _, c := range l.comments {
		inside := false
		for _, b := range bs {
			if c.pos > b.open && c.pos < b.close {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, c)
		}
	}
	return out
}

// hasDesignerContent reports whether a lambda looks like a generated routine
func (l *lexed) hasDesignerContent() bool {
	if branchHeader.MatchString(l.masked) {
		return true
	}
	for _, c := range l.comments {
		if strings.HasPrefix(strings.TrimSpace(c.text), markerTag) {
			return true
		}
	}
	return false
}
