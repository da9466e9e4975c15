/*
slug.go - Store id derivation from names

The id is a stable slug: lowercased, diacritics stripped, runs of
non-alphanumerics collapsed to single hyphens, trimmed, capped at 60 chars.
A name that strips down to nothing falls back to a random id so the store
stays addressable.
*/
package registry

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 60

// stripMarks decomposes and removes combining marks, so "Café" becomes "Cafe".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SlugID derives a store id from a display name.
func SlugID(name string) StoreID {
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	s = strings.ToLower(s)

	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return randomStoreID()
	}
	return StoreID(slug)
}

func randomStoreID() StoreID {
	return StoreID("store-" + uuid.NewString()[:8])
}

// foldName is the case-insensitive key used for upsert-by-name matching.
func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
