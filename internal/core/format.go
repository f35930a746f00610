package core

import "strconv"

// FormatAmount renders a transaction amount for human-readable messages
// with two decimal places (e.g. "102.50").
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// FormatZScore renders a z-score for human-readable messages with two
// decimal places, keeping the sign.
func FormatZScore(z float64) string {
	return strconv.FormatFloat(z, 'f', 2, 64)
}
