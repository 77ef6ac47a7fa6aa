package report

import (
	"strings"

	"raidwatch/internal/apperr"
)

// SanitizeCode maps a user-supplied report reference (bare code or full
// report URL) to the canonical report code.
func SanitizeCode(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", apperr.New(apperr.KindBadRequest, "report code cannot be empty")
	}
	if idx := strings.Index(strings.ToLower(text), "/reports/"); idx >= 0 {
		remainder := text[idx+len("/reports/"):]
		remainder, _, _ = strings.Cut(remainder, "/")
		remainder, _, _ = strings.Cut(remainder, "?")
		remainder, _, _ = strings.Cut(remainder, "#")
		remainder = strings.TrimSpace(remainder)
		if remainder != "" {
			text = remainder
		}
	}
	for _, r := range text {
		if !isCodeRune(r) {
			return "", apperr.New(apperr.KindBadRequest, "invalid report code %q", raw)
		}
	}
	return text, nil
}

func isCodeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return false
}

// SanitizeCodes canonicalizes a list of report references, dropping
// duplicates while preserving order.
func SanitizeCodes(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, apperr.New(apperr.KindBadRequest, "at least one report code is required")
	}
	seen := map[string]bool{}
	codes := make([]string, 0, len(raw))
	for _, r := range raw {
		code, err := SanitizeCode(r)
		if err != nil {
			return nil, err
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}
