package tabular

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// russianMonths maps Russian long-form month names to their numeric value,
// for dates like "15 марта 2021 года" that dateparse does not understand.
var russianMonths = map[string]time.Month{
	"января": time.January, "февраля": time.February, "марта": time.March,
	"апреля": time.April, "мая": time.May, "июня": time.June,
	"июля": time.July, "августа": time.August, "сентября": time.September,
	"октября": time.October, "ноября": time.November, "декабря": time.December,
}

var russianLongDate = regexp.MustCompile(`(?i)(\d{1,2})\s+([а-яё]+)\s+(\d{4})`)
var dotDate = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)

// minYear/maxYear bound plausible dates per spec §4.9: "reject years <1900
// or >2100."
const minYear, maxYear = 1900, 2100

// NormalizeDate parses a date in ISO, DD.MM.YYYY, or Russian long form,
// relative to referenceDate for relative expressions ("yesterday", "last
// week"). Returns the value in ISO 8601 (YYYY-MM-DD) and ok=false if no
// supported format matched or the year is out of bounds.
func NormalizeDate(raw string, referenceDate time.Time) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if m := russianLongDate.FindStringSubmatch(raw); m != nil {
		day, err1 := strconv.Atoi(m[1])
		month, known := russianMonths[strings.ToLower(m[2])]
		year, err2 := strconv.Atoi(m[3])
		if err1 == nil && err2 == nil && known {
			t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
			return formatDate(t)
		}
	}

	if m := dotDate.FindStringSubmatch(raw); m != nil {
		day, err1 := strconv.Atoi(m[1])
		month, err2 := strconv.Atoi(m[2])
		year, err3 := strconv.Atoi(m[3])
		if err1 == nil && err2 == nil && err3 == nil {
			t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			return formatDate(t)
		}
	}

	if t, ok := parseRelativeDate(raw, referenceDate); ok {
		return formatDate(t)
	}

	if t, err := dateparse.ParseAny(raw); err == nil {
		return formatDate(t)
	}

	return "", false
}

func formatDate(t time.Time) (string, bool) {
	if t.Year() < minYear || t.Year() > maxYear {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func parseRelativeDate(raw string, reference time.Time) (time.Time, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "today":
		return reference, true
	case "yesterday":
		return reference.AddDate(0, 0, -1), true
	case "tomorrow":
		return reference.AddDate(0, 0, 1), true
	case "last week":
		return reference.AddDate(0, 0, -7), true
	case "last month":
		return reference.AddDate(0, -1, 0), true
	case "last year":
		return reference.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

var currencyDigits = regexp.MustCompile(`[-0-9.,]+`)

// NormalizeCurrency retains the original string as value and extracts a
// numeric-only normalized_value, per spec §4.9: "retain original string in
// value, store numeric-only in normalized_value."
func NormalizeCurrency(raw string) (value, normalized string) {
	value = strings.TrimSpace(raw)
	digits := currencyDigits.FindString(value)
	digits = strings.ReplaceAll(digits, ",", "")
	return value, digits
}

// NormalizeYesNo case-insensitively maps raw text to {Yes, No, Unknown}.
func NormalizeYesNo(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", "да":
		return "Yes"
	case "no", "n", "false", "нет":
		return "No"
	default:
		return "Unknown"
	}
}

// VerbatimDerivable reports whether quote is substring-derivable from
// source, per spec §4.9's verbatim requirement, ignoring surrounding
// whitespace differences.
func VerbatimDerivable(quote, source string) bool {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return false
	}
	return strings.Contains(source, quote)
}
