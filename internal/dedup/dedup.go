// Package dedup decides which postings an alert has not been notified about yet.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"jobalert/internal/model"
)

// Identity returns a stable identifier for a posting, derived from its title,
// company and location. Case, diacritics and whitespace do not affect it.
func Identity(p model.Posting) string {
	key := normalize(p.Title) + "|" + normalize(p.Company) + "|" + normalize(p.Location)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// FilterNew returns the postings whose identity is not in sentIDs, in source
// order. A posting repeated within the same batch is returned once.
func FilterNew(postings []model.Posting, sentIDs []string) []model.Posting {
	seen := make(map[string]struct{}, len(sentIDs)+len(postings))
	for _, id := range sentIDs {
		seen[id] = struct{}{}
	}
	var fresh []model.Posting
	for _, p := range postings {
		id := Identity(p)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, p)
	}
	return fresh
}

// Append adds the identities of postings to sentIDs, skipping ones already
// present. The input slice is not modified.
func Append(sentIDs []string, postings []model.Posting) []string {
	out := make([]string, len(sentIDs), len(sentIDs)+len(postings))
	copy(out, sentIDs)
	seen := make(map[string]struct{}, cap(out))
	for _, id := range sentIDs {
		seen[id] = struct{}{}
	}
	for _, p := range postings {
		id := Identity(p)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Bound limits the stored size of a sent-set. When the encoded set exceeds
// maxBytes, only the last retain identities are kept, and further oldest
// entries are dropped until the encoding fits.
func Bound(sentIDs []string, retain, maxBytes int) []string {
	if maxBytes <= 0 || len(model.EncodeSentIDs(sentIDs)) <= maxBytes {
		return sentIDs
	}
	ids := sentIDs
	if retain > 0 && len(ids) > retain {
		ids = ids[len(ids)-retain:]
	}
	for len(ids) > 0 && len(model.EncodeSentIDs(ids)) > maxBytes {
		ids = ids[1:]
	}
	return append([]string(nil), ids...)
}
