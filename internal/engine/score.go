package engine

import (
	"strings"
	"time"
)

// Component weights for the combined confidence score. Amount is the most
// reliable signal, date supports it, name breaks near-ties.
const (
	amountWeight = 0.5
	dateWeight   = 0.3
	nameWeight   = 0.2
)

// confidenceScore combines the component scores into [0,1].
func confidenceScore(amountScore, dateScore, nameScore float64) float64 {
	return amountWeight*amountScore + dateWeight*dateScore + nameWeight*nameScore
}

// scoreAmount compares two signed minor-unit amounts. Exact matches score
// 1.0; the score decays with the percentage difference. Opposite signs are
// compared on absolute values (invoice vs. payment perspective) with a
// penalty.
func scoreAmount(a, b int64) float64 {
	oppositeSigns := (a > 0 && b < 0) || (a < 0 && b > 0)

	ca, cb := a, b
	if oppositeSigns {
		ca, cb = abs64(a), abs64(b)
	}

	diff := float64(abs64(ca - cb))
	maxAmount := float64(max64(abs64(ca), abs64(cb)))
	if maxAmount == 0 {
		if a == b {
			return 1
		}
		return 0
	}

	pct := diff / maxAmount

	var base float64
	switch {
	case pct == 0:
		base = 1.0
	case pct <= 0.01:
		base = 0.98
	case pct <= 0.02:
		base = 0.95
	case pct <= 0.03:
		base = 0.9
	case pct <= 0.05:
		base = 0.85
	case pct <= 0.1:
		base = 0.6
	case pct <= 0.2:
		base = 0.3
	default:
		base = 0
	}

	if oppositeSigns {
		base *= 0.7
	}

	return base
}

// scoreDate decays with the distance between the document date and the
// transaction date.
func scoreDate(a, b time.Time) float64 {
	days := dateDistanceDays(a, b)

	switch {
	case days == 0:
		return 1.0
	case days <= 1:
		return 0.95
	case days <= 3:
		return 0.85
	case days <= 7:
		return 0.75
	case days <= 14:
		return 0.6
	case days <= 30:
		score := 1 - (float64(days)/30)*0.7
		if score < 0.3 {
			return 0.3
		}
		return score
	default:
		return 0.1
	}
}

// dateDistanceDays returns the whole-day distance between two dates.
func dateDistanceDays(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d / (24 * time.Hour))
}

// corporate suffixes stripped before name comparison.
var nameSuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "llc": {}, "ltd": {}, "limited": {},
	"corp": {}, "corporation": {}, "co": {}, "company": {}, "gmbh": {},
	"ab": {}, "as": {}, "sa": {}, "bv": {}, "plc": {},
}

// normalizeName lowercases, strips punctuation, and drops corporate
// suffixes so "ACME INC" and "Acme" compare equal.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	kept := words[:0]
	for _, w := range words {
		if _, ok := nameSuffixes[w]; ok {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// scoreName measures vendor/counterparty similarity using bigram Dice
// similarity over the normalized names.
func scoreName(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	ba, bb := bigrams(na), bigrams(nb)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	var overlap int
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			overlap += min(n, m)
		}
	}

	var totalA, totalB int
	for _, n := range ba {
		totalA += n
	}
	for _, n := range bb {
		totalB += n
	}

	return 2 * float64(overlap) / float64(totalA+totalB)
}

func bigrams(s string) map[string]int {
	grams := make(map[string]int)
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] == ' ' || runes[i+1] == ' ' {
			continue
		}
		grams[string(runes[i:i+2])]++
	}
	return grams
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
