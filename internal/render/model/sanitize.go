// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxMessageLen bounds user-visible status messages, in runes.
const MaxMessageLen = 240

var (
	absPathRe = regexp.MustCompile(`(?:/[^\s/:'"=]+){2,}/?`)
	secretRe  = regexp.MustCompile(`(?i)\b(token|secret|password|passwd|api[_-]?key|authorization)(\s*[=:]\s*)\S+`)
)

// SanitizeMessage makes process output safe to show to the job owner: every
// redact string (storage root, work dir) and every other absolute path is
// reduced to its base name, credential-looking assignments are masked,
// control characters are removed and the result is capped at MaxMessageLen.
func SanitizeMessage(msg string, redact ...string) string {
	for _, r := range redact {
		if r == "" || r == "/" {
			continue
		}
		msg = strings.ReplaceAll(msg, strings.TrimSuffix(r, "/")+"/", "")
		msg = strings.ReplaceAll(msg, r, filepath.Base(r))
	}
	msg = absPathRe.ReplaceAllStringFunc(msg, func(p string) string {
		return filepath.Base(strings.TrimSuffix(p, "/"))
	})
	msg = secretRe.ReplaceAllString(msg, "$1$2***")

	msg = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, msg)
	msg = strings.Join(strings.Fields(msg), " ")

	if rs := []rune(msg); len(rs) > MaxMessageLen {
		msg = string(rs[:MaxMessageLen-1]) + "…"
	}
	return msg
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

const maxStemLen = 80

// DownloadName derives the attachment name from the uploaded file name:
// "<stem>_turntable<ext>". Accents are folded and anything outside
// [A-Za-z0-9._-] becomes an underscore.
func DownloadName(inputName string, f Format) string {
	base := filepath.Base(strings.ReplaceAll(inputName, "\\", "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	folded, _, err := transform.String(foldAccents, stem)
	if err != nil {
		folded = stem
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.Trim(b.String(), "._-")
	if rs := []rune(clean); len(rs) > maxStemLen {
		clean = string(rs[:maxStemLen])
	}
	if clean == "" {
		clean = "model"
	}
	return clean + "_turntable" + f.Extension()
}
