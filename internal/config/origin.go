package config

import (
	"net/url"
	"strings"
)

// WildcardOrigin allows every origin when present in the allow-list.
const WildcardOrigin = "*"

// NormalizeOrigins trims, lowercases and de-duplicates origins, dropping
// entries that do not parse as scheme://host. The wildcard is kept verbatim
// and reported through allowAll.
func NormalizeOrigins(origins []string) (normalized []string, allowAll bool) {
	if len(origins) == 0 {
		return nil, false
	}

	seen := make(map[string]struct{}, len(origins))
	normalized = make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == WildcardOrigin {
			allowAll = true
		} else {
			n, ok := NormalizeOrigin(trimmed)
			if !ok {
				continue
			}
			trimmed = n
		}

		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}

	return normalized, allowAll
}

// NormalizeOrigin reduces an origin to lowercase scheme://host form.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
