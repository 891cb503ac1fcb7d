// Package demographic scores how closely a claimed demographic record
// matches the one on file.
package demographic

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	weightName  = decimal.RequireFromString("0.40")
	weightDOB   = decimal.RequireFromString("0.30")
	weightPhone = decimal.RequireFromString("0.15")
	weightEmail = decimal.RequireFromString("0.15")

	// Threshold is the minimum aggregate score that authenticates.
	Threshold = decimal.NewFromInt(75)

	hundred = decimal.NewFromInt(100)
)

type Record struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Phone       string
	Email       string
}

// Score breaks the aggregate down per field. All values are percentages.
type Score struct {
	Name          decimal.Decimal
	DateOfBirth   decimal.Decimal
	Phone         decimal.Decimal
	Email         decimal.Decimal
	Total         decimal.Decimal
	Authenticated bool
}

// TotalFloat is the aggregate rounded to two decimals.
func (s Score) TotalFloat() float64 {
	return s.Total.Round(2).InexactFloat64()
}

// Match compares claimed against onFile. A phone or email missing on
// either side scores zero but keeps its weight.
func Match(onFile, claimed Record) Score {
	var s Score
	s.Name = similarity(fullName(onFile), fullName(claimed))
	if dob := strings.TrimSpace(onFile.DateOfBirth); dob != "" && dob == strings.TrimSpace(claimed.DateOfBirth) {
		s.DateOfBirth = hundred
	}
	s.Phone = similarity(onFile.Phone, claimed.Phone)
	s.Email = similarity(onFile.Email, claimed.Email)

	s.Total = s.Name.Mul(weightName).
		Add(s.DateOfBirth.Mul(weightDOB)).
		Add(s.Phone.Mul(weightPhone)).
		Add(s.Email.Mul(weightEmail))
	s.Authenticated = s.Total.GreaterThanOrEqual(Threshold)
	return s
}

func fullName(r Record) string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

var lower = cases.Lower(language.Und)

// similarity is (maxLen - distance) / maxLen * 100 over code points,
// case-insensitive. Empty input on either side scores zero.
func similarity(a, b string) decimal.Decimal {
	ra := []rune(lower.String(strings.TrimSpace(a)))
	rb := []rune(lower.String(strings.TrimSpace(b)))
	if len(ra) == 0 || len(rb) == 0 {
		return decimal.Zero
	}
	maxLen := max(len(ra), len(rb))
	d := Levenshtein(ra, rb)
	if d >= maxLen {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(maxLen - d)).Mul(hundred).Div(decimal.NewFromInt(int64(maxLen)))
}

// Levenshtein is the unit-cost edit distance between a and b.
func Levenshtein(a, b []rune) int {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
		dp[i][0] = i
	}
	for j := 0; j <= m; j++ {
		dp[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			dp[i][j] = min(dp[i-1][j]+1, dp[i][j-1]+1, dp[i-1][j-1]+cost)
		}
	}
	return dp[n][m]
}
