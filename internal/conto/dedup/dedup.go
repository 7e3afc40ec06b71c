// Package dedup derives the import keys that identify one economic event
// across uploads, and the content hash that identifies a whole file.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/sheet"
)

const manualKeyPrefix = "manuale:"

// FileHash returns the hex sha256 of the uploaded bytes.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyForRecord builds the import key of a normalized row. Amounts are
// canonicalized to cents so "1.000,00" and 1000 produce the same key.
func KeyForRecord(account conto.Account, rec sheet.Record) string {
	parts := []string{
		string(account),
		intPart(rec.Month),
		intPart(rec.Year),
		NormalizeRegistration(rec.RegistrationNumber),
		normalizeCompany(rec.CompanyName),
		amountPart(rec.Base),
		amountPart(rec.Unreconciled),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ManualKey returns a fresh key for a manually created commission.
func ManualKey() string {
	return manualKeyPrefix + uuid.NewString()
}

// IsManualKey reports whether key was produced by ManualKey.
func IsManualKey(key string) bool {
	return strings.HasPrefix(key, manualKeyPrefix)
}

// NormalizeRegistration keeps only letters and digits, upper-cased.
// Registration numbers read from numeric cells lose their formatting, so
// separators are not significant.
func NormalizeRegistration(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func normalizeCompany(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

func intPart(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func amountPart(v *float64) string {
	if v == nil || *v <= 0 {
		return ""
	}
	return decimal.NewFromFloat(*v).StringFixed(2)
}

// Tracker detects keys repeated within a single upload.
type Tracker struct {
	seen map[string]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]int)}
}

// Observe records key for row. When the key was already seen it returns the
// row that first carried it and true.
func (t *Tracker) Observe(key string, row int) (int, bool) {
	if first, ok := t.seen[key]; ok {
		return first, true
	}
	t.seen[key] = row
	return 0, false
}

// Keys returns every distinct key observed so far.
func (t *Tracker) Keys() []string {
	keys := make([]string, 0, len(t.seen))
	for k := range t.seen {
		keys = append(keys, k)
	}
	return keys
}
