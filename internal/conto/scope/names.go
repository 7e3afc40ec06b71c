// Package scope resolves commission parties from free-text names and
// derives the set of ledger rows a caller may see.
package scope

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are stripped from the end of a normalized name.
var legalSuffixes = map[string]struct{}{
	"srl":  {},
	"srls": {},
	"sas":  {},
	"snc":  {},
	"spa":  {},
}

// minSubstringLen guards the substring tier against matching initials.
const minSubstringLen = 3

// NormalizeName lower-cases, trims, strips diacritics and collapses
// whitespace. Punctuation other than dots becomes a space.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// StripLegalSuffixes removes dots and trailing legal-entity suffixes from a
// normalized name: "rossi s.r.l." becomes "rossi".
func StripLegalSuffixes(normalized string) string {
	fields := strings.Fields(strings.ReplaceAll(normalized, ".", ""))
	for len(fields) > 1 {
		if _, ok := legalSuffixes[fields[len(fields)-1]]; !ok {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

// Tier names the matching rule that produced a match.
type Tier string

const (
	TierLiteral  Tier = "literal"
	TierStripped Tier = "suffix_stripped"
	TierContains Tier = "substring"
)

// Candidate is a party that may be referred to by any of Names.
type Candidate struct {
	ID    uuid.UUID
	Names []string
}

// Match finds the single candidate referred to by query. Tiers are tried
// from strictest to loosest; the first tier with any hit decides, and a tier
// hitting more than one distinct candidate yields no match.
func Match(query string, candidates []Candidate) (uuid.UUID, Tier, bool) {
	q := NormalizeName(query)
	if q == "" {
		return uuid.Nil, "", false
	}
	qs := StripLegalSuffixes(q)

	tiers := []struct {
		tier Tier
		hit  func(name string) bool
	}{
		{TierLiteral, func(name string) bool { return name == q }},
		{TierStripped, func(name string) bool { return qs != "" && StripLegalSuffixes(name) == qs }},
		{TierContains, func(name string) bool {
			ns := StripLegalSuffixes(name)
			if len(ns) < minSubstringLen || len(qs) < minSubstringLen {
				return false
			}
			return strings.Contains(ns, qs) || strings.Contains(qs, ns)
		}},
	}

	for _, tier := range tiers {
		found := map[uuid.UUID]struct{}{}
		var id uuid.UUID
		for _, c := range candidates {
			for _, raw := range c.Names {
				name := NormalizeName(raw)
				if name == "" || !tier.hit(name) {
					continue
				}
				found[c.ID] = struct{}{}
				id = c.ID
				break
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return id, tier.tier, true
		default:
			return uuid.Nil, tier.tier, false
		}
	}
	return uuid.Nil, "", false
}
