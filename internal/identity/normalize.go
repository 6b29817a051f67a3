// Package identity resolves raw scanner tokens to directory subjects.
//
// Stored tag ids come in several historical formats (NFC_ABC, nfc-abc,
// plain ABC, ...). Candidates expands one token into all of them in a fixed
// precedence and the Resolver picks the first that exists in the directory.
package identity

import "strings"

// Candidates returns the tag forms to try for token, most preferred first.
// Duplicates are dropped keeping their first position.
func Candidates(token string) []string {
	base := BaseID(token)
	lowerBase := strings.ToLower(base)

	forms := []string{
		token,
		strings.ToUpper(token),
		strings.ToLower(token),
		base,
		base,
		"NFC_" + base,
		"NFC-" + base,
		"NFC_" + lowerBase,
		"nfc_" + lowerBase,
	}

	seen := make(map[string]struct{}, len(forms))
	out := forms[:0]
	for _, f := range forms {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// BaseID strips a leading nfc_ or nfc- prefix (any case) and upper-cases the rest.
func BaseID(token string) string {
	if len(token) >= 4 {
		prefix := strings.ToLower(token[:4])
		if prefix == "nfc_" || prefix == "nfc-" {
			token = token[4:]
		}
	}
	return strings.ToUpper(token)
}
