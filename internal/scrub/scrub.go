// Package scrub keeps sensitive values out of the service's own log output.
// A masking service that prints the identifiers it is masking into its logs
// defeats itself, so every log line goes through String first.
package scrub

import (
	"fmt"
	"log"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	longDigitRunRe = regexp.MustCompile(`\d[\d -]{9,}\d`)
	nationalIDRe   = regexp.MustCompile(`[1-9]\d{16}[0-9Xx]`)
	emailRe        = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlRe          = regexp.MustCompile(`https?://[^\s"'<>]+`)
	bearerRe       = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`)
)

// String masks identifier-shaped substrings in free-form log text.
func String(s string) string {
	if s == "" {
		return s
	}
	out := s
	out = nationalIDRe.ReplaceAllString(out, "[MASKED_ID]")
	out = longDigitRunRe.ReplaceAllString(out, "[MASKED_NUMBER]")
	out = emailRe.ReplaceAllString(out, "[MASKED_EMAIL]")
	out = bearerRe.ReplaceAllString(out, "${1}[MASKED]")
	out = urlRe.ReplaceAllStringFunc(out, scrubURL)
	return out
}

// Sprintf formats like fmt.Sprintf and scrubs the result.
func Sprintf(format string, args ...interface{}) string {
	return String(fmt.Sprintf(format, args...))
}

// Logf prints a scrubbed log line.
func Logf(format string, args ...interface{}) {
	log.Print(Sprintf(format, args...))
}

// Fatalf prints a scrubbed fatal log line.
func Fatalf(format string, args ...interface{}) {
	log.Fatal(Sprintf(format, args...))
}

// scrubURL keeps scheme, host, and the final path element; query strings and
// deeper paths may carry document names or tokens.
func scrubURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[MASKED_URL]"
	}
	base := path.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "." || base == "/" || base == "" {
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Host, base)
}
