package recon

import (
	"strings"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Signal weights. Reference and counterparty only enter the composite when
// they fire; the weights of contributing signals are renormalized so an
// absent signal contributes nothing instead of dragging the score down.
const (
	weightAmount       = 0.35
	weightDate         = 0.25
	weightReference    = 0.25
	weightCounterparty = 0.15
)

// scoreAmount rates amount proximity from the relative deviation between
// the (converted) transaction amount and the invoice's outstanding amount,
// measured against the configured tolerance. Exact match scores 100 and
// the score decays linearly; at half the tolerance it is still 85.
func scoreAmount(deviation, tolerance float64) float64 {
	if deviation == 0 {
		return 100
	}
	score := 100 - 30*(deviation/tolerance)
	if score < 0 {
		return 0
	}
	return score
}

// scoreDate rates booking-date proximity to the invoice due date. Same-day
// scores 100 and the decay steepens with distance: one day off is 97.6,
// ten days off is 40.
func scoreDate(gapDays float64) float64 {
	if gapDays < 0 {
		gapDays = -gapDays
	}
	score := 100 - 2*gapDays - 0.4*gapDays*gapDays
	if score < 0 {
		return 0
	}
	return score
}

// scoreReference looks for the invoice number in the transaction's
// description and remittance text. An exact occurrence scores 100, a
// partial occurrence (the trailing digits of the number) 80, absence 0.
func scoreReference(invoiceNumber, description, remittance string) float64 {
	number := strings.ToUpper(strings.TrimSpace(invoiceNumber))
	if number == "" {
		return 0
	}
	haystack := strings.ToUpper(description + " " + remittance)

	if strings.Contains(haystack, number) {
		return 100
	}

	// Trailing digits: customers often type just "1042" for "INV-2024-1042".
	digits := trailingDigits(number)
	if len(digits) >= 3 && strings.Contains(haystack, digits) {
		return 80
	}
	return 0
}

func trailingDigits(s string) string {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	return s[start:end]
}

// scoreCounterparty compares the transaction's counterparty name with the
// invoice's customer name, case-insensitively. Besides exact and substring
// matches, a Levenshtein similarity of 85% or better counts, since bank
// statements routinely truncate or misspell company names.
func scoreCounterparty(counterparty, customerName string) float64 {
	a := strings.ToLower(strings.TrimSpace(counterparty))
	b := strings.ToLower(strings.TrimSpace(customerName))
	if a == "" || b == "" {
		return 0
	}

	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return 75
	}

	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	similarity := 1 - float64(distance)/float64(longest)
	if similarity >= 0.85 {
		return 75
	}
	return 0
}

// composite combines the four signals into one 0–100 confidence score.
// Amount and date always contribute; reference and counterparty join only
// when they matched something.
func composite(b domain.ScoreBreakdown) float64 {
	sum := weightAmount*b.Amount + weightDate*b.Date
	weights := weightAmount + weightDate

	if b.Reference > 0 {
		sum += weightReference * b.Reference
		weights += weightReference
	}
	if b.Counterparty > 0 {
		sum += weightCounterparty * b.Counterparty
		weights += weightCounterparty
	}

	return sum / weights
}

// relativeDeviation computes |amount − due| / due. A zero or negative due
// amount disqualifies outright.
func relativeDeviation(amount, due decimal.Decimal) (float64, bool) {
	if !due.IsPositive() {
		return 0, false
	}
	dev, _ := amount.Sub(due).Abs().Div(due).Float64()
	return dev, true
}
