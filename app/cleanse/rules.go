package cleanse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	errNoDigits  = errors.New("no digits")
	errBadDate   = errors.New("unrecognized date")
	errNotInt    = errors.New("not a whole number")
	nonAlnum     = regexp.MustCompile(`[^a-z0-9]+`)
	whitespace   = regexp.MustCompile(`\s+`)
	moneyJunk    = strings.NewReplacer("₹", "", "$", "", "€", "", "£", "", "INR", "", "Rs.", "", "Rs", "", ",", "", " ", "")
	dateTokenSep = regexp.MustCompile(`\D+`)
)

// ParseID extracts the digits of a mixed identifier such as "C003" or
// "T-0042" and returns them as a number.
func ParseID(s string) (int64, error) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, errNoDigits
	}
	return strconv.ParseInt(b.String(), 10, 64)
}

// NormalizePhone keeps the last ten digits behind the country code. Inputs
// with fewer than ten digits are not phone numbers.
func NormalizePhone(s, countryCode string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return "", false
	}
	return countryCode + digits[len(digits)-10:], true
}

// CanonicalEmail lower-cases and strips all whitespace.
func CanonicalEmail(s string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

// SynthesizeEmail builds the placeholder address for a customer without one.
// It depends only on its inputs, so re-runs produce the same address.
func SynthesizeEmail(first, last string, id int64) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{first, last} {
		if p = nonAlnum.ReplaceAllString(strings.ToLower(p), ""); p != "" {
			parts = append(parts, p)
		}
	}
	local := strings.Join(parts, ".")
	if local == "" {
		local = "customer"
	}
	return local + "+" + strconv.FormatInt(id, 10) + "@example.com"
}

// NormalizeCategory trims and capitalizes ("  ELECTRONICS" -> "Electronics").
func NormalizeCategory(s string) string {
	return capitalize(strings.TrimSpace(s))
}

// NormalizeStatus title-cases each word of an order status.
func NormalizeStatus(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	rs := []rune(strings.ToLower(s))
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}

// ParseMoney accepts amounts with currency symbols and thousands separators.
func ParseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(moneyJunk.Replace(strings.TrimSpace(s)))
}

// ParseCount accepts "3" and "3.0" but not "3.5".
func ParseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, errNotInt
	}
	return int(d.IntPart()), nil
}

var (
	isoLayouts = []string{
		time.DateOnly,
		"2006-1-2",
		"2006/1/2",
		"2006.1.2",
		time.RFC3339,
		time.DateTime,
	}
	dayFirstLayouts   = []string{"2/1/2006", "2-1-2006", "2.1.2006"}
	monthFirstLayouts = []string{"1/2/2006", "1-2-2006", "1.2.2006"}
	namedLayouts      = []string{"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006", "02-Jan-2006", "2-Jan-06"}
)

// ParseDate reads the date formats seen in the raw feeds. Day-first wins for
// ambiguous numeric dates unless a token above 12 says otherwise.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errBadDate
	}

	layouts := make([]string, 0, len(isoLayouts)+len(dayFirstLayouts)+len(monthFirstLayouts)+len(namedLayouts))
	layouts = append(layouts, isoLayouts...)
	if monthFirst(s) {
		layouts = append(layouts, monthFirstLayouts...)
		layouts = append(layouts, dayFirstLayouts...)
	} else {
		layouts = append(layouts, dayFirstLayouts...)
		layouts = append(layouts, monthFirstLayouts...)
	}
	layouts = append(layouts, namedLayouts...)

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, errBadDate
}

// monthFirst reports whether the second numeric token cannot be a month
// while the first can, as in "01/15/2024".
func monthFirst(s string) bool {
	tokens := dateTokenSep.Split(s, -1)
	if len(tokens) < 3 || len(tokens[0]) == 4 {
		return false
	}
	a, errA := strconv.Atoi(tokens[0])
	b, errB := strconv.Atoi(tokens[1])
	if errA != nil || errB != nil {
		return false
	}
	return b > 12 && a <= 12
}

// PriceTier buckets a unit price for the product dimension.
func PriceTier(price, standardFrom, premiumFrom decimal.Decimal) string {
	switch {
	case price.GreaterThanOrEqual(premiumFrom):
		return "Premium"
	case price.GreaterThanOrEqual(standardFrom):
		return "Standard"
	default:
		return "Budget"
	}
}
