package scope

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "citta di roma", NormalizeName("  Città   di\tRoma "))
	assert.Equal(t, "rossi s.r.l.", NormalizeName("ROSSI S.R.L."))
	assert.Equal(t, "bianchi c. s.n.c.", NormalizeName("Bianchi & C. s.n.c."))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestStripLegalSuffixes(t *testing.T) {
	assert.Equal(t, "rossi", StripLegalSuffixes(NormalizeName("Rossi S.r.l.")))
	assert.Equal(t, "rossi", StripLegalSuffixes(NormalizeName("Rossi srls")))
	assert.Equal(t, "bianchi c", StripLegalSuffixes(NormalizeName("Bianchi & C. s.n.c.")))
	assert.Equal(t, "alfa", StripLegalSuffixes(NormalizeName("Alfa S.p.A. SAS")))
	assert.Equal(t, "spa", StripLegalSuffixes("spa"))
}

func TestMatchPrefersLiteralTier(t *testing.T) {
	a := Candidate{ID: uuid.New(), Names: []string{"Rossi S.r.l."}}
	b := Candidate{ID: uuid.New(), Names: []string{"Rossi"}}
	cands := []Candidate{a, b}

	id, tier, ok := Match("rossi s.r.l.", cands)
	require.True(t, ok)
	assert.Equal(t, a.ID, id)
	assert.Equal(t, TierLiteral, tier)

	id, tier, ok = Match(" ROSSI ", cands)
	require.True(t, ok)
	assert.Equal(t, b.ID, id)
	assert.Equal(t, TierLiteral, tier)
}

func TestMatchAmbiguousTierIsNoMatch(t *testing.T) {
	cands := []Candidate{
		{ID: uuid.New(), Names: []string{"Rossi S.r.l."}},
		{ID: uuid.New(), Names: []string{"Rossi"}},
	}
	_, tier, ok := Match("Rossi srl", cands)
	assert.False(t, ok)
	assert.Equal(t, TierStripped, tier)
}

func TestMatchLooserTiers(t *testing.T) {
	verdi := Candidate{ID: uuid.New(), Names: []string{"", "Studio Verdi Consulting"}}
	neri := Candidate{ID: uuid.New(), Names: []string{"Neri S.a.s."}}
	cands := []Candidate{verdi, neri}

	id, tier, ok := Match("Neri", cands)
	require.True(t, ok)
	assert.Equal(t, neri.ID, id)
	assert.Equal(t, TierStripped, tier)

	id, tier, ok = Match("verdi", cands)
	require.True(t, ok)
	assert.Equal(t, verdi.ID, id)
	assert.Equal(t, TierContains, tier)

	_, _, ok = Match("ve", cands)
	assert.False(t, ok)
	_, _, ok = Match("", cands)
	assert.False(t, ok)
}
