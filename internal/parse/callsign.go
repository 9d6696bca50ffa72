package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	callsignRe = regexp.MustCompile(`^[A-Z0-9]{3,8}$`)
)

// Callsign normalizes a raw flight callsign and checks its shape.
// Interior whitespace is dropped ("BA 123" -> "BA123") and letters are upper-cased.
func Callsign(raw string) (string, error) {
	s := strings.ToUpper(spaceRe.ReplaceAllString(strings.TrimSpace(raw), ""))
	if !callsignRe.MatchString(s) {
		return "", fmt.Errorf("invalid flight callsign %q: want 3-8 letters or digits", raw)
	}
	return s, nil
}

// IsCallsign reports whether raw normalizes to a valid callsign.
func IsCallsign(raw string) bool {
	_, err := Callsign(raw)
	return err == nil
}
