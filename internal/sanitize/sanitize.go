// Package sanitize provides pure string scrubbers applied to every free-text,
// identifier, and filename field before a canonical message record is
// constructed. Each function is total: it never fails, and empty input passes
// through unchanged.
package sanitize

import (
	"path"
	"strings"
	"unicode"
)

// maxFileNameLen caps sanitized filenames. Long names are truncated, not
// rejected — the record must still be constructible.
const maxFileNameLen = 255

// Text strips HTML/markup tags and control characters from free-text content.
// Newlines and tabs survive; everything else below 0x20 and DEL is dropped.
func Text(s string) string {
	if s == "" {
		return s
	}
	s = stripTags(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Identifier scrubs a JID-like identifier down to its safe charset:
// letters, digits, and the @ . _ : + - punctuation WhatsApp-style JIDs use.
func Identifier(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '_' || r == ':' || r == '+' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FileName reduces a filename to a safe basename: path separators and
// traversal segments are removed, control characters and NULs dropped, and
// the result truncated to a sane length. "." and ".." collapse to "".
func FileName(s string) string {
	if s == "" {
		return s
	}
	// Normalize Windows separators before taking the basename.
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(s)
	if s == "." || s == ".." || s == "/" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) || r == '/' {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxFileNameLen {
		out = out[:maxFileNameLen]
	}
	return out
}

// stripTags removes <...> spans. An unterminated "<" drops the rest of the
// string rather than letting half a tag through.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
			}
		case r == '<':
			inTag = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
