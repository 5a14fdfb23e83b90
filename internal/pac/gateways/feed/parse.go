package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	logpkg "github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/common/utils"
)

// ParseJSONList decodes a JSON array of domain strings.
//
// Behavior:
// - Streams the array so large registries are not buffered twice
// - Canonicalizes each entry and strips "*." / "." markers
// - Skips empty and invalid entries, de-duplicates preserving first-seen order
func ParseJSONList(r io.Reader, source string, logger logpkg.Logger) ([]string, error) {
	dec := json.NewDecoder(r)

	t, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read opening token: %w", err)
	}
	if d, ok := t.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("expected JSON array from %s", source)
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, 256)
	var skipped int
	for dec.More() {
		var raw string
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode domain: %w", err)
		}
		name := normalizeDomainName(raw)
		if !isValidFQDN(name) {
			skipped++
			logger.Debug(map[string]any{"source": source, "raw": raw}, "json_skip_invalid")
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read closing token: %w", err)
	}
	logger.Debug(map[string]any{"source": source, "count": len(out), "skipped": skipped}, "parse_json_list_done")
	return out, nil
}

// ParsePlainList parses a newline-delimited list of domains.
//
// Behavior:
// - Supports comments starting with '#' (inline or whole-line)
// - Trims whitespace, BOM, "*." / "." markers and trailing dots
// - Skips empty lines and invalid names
// - De-duplicates by canonical name while preserving first-seen order
func ParsePlainList(r io.Reader, source string, logger logpkg.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	seen := make(map[string]struct{})
	out := make([]string, 0, 256)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		name := normalizeDomainName(line)
		if !isValidFQDN(name) {
			logger.Debug(map[string]any{"line": lineNum, "name": name}, "skip_invalid_fqdn")
			continue
		}
		if _, ok := seen[name]; ok {
			logger.Debug(map[string]any{"line": lineNum, "name": name}, "skip_duplicate")
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}

// isValidFQDN enforces:
//   - total length of at most 255 characters
//   - at least two labels, each 1 to 63 characters
//   - the first label starts with a letter or digit
func isValidFQDN(name string) bool {
	if len(name) > 255 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || len(label) == 0 {
			return false
		}
	}
	first := []rune(labels[0])
	return unicode.IsLetter(first[0]) || unicode.IsDigit(first[0])
}

// normalizeDomainName trims whitespace, removes a leading "*." or "." marker
// and returns the normalized (punycode) hostname.
func normalizeDomainName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "\uFEFF")
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	return utils.NormalizeHostname(name)
}
