package tabular

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDate_ISO(t *testing.T) {
	iso, ok := NormalizeDate("2021-03-15", time.Now())
	assert.True(t, ok)
	assert.Equal(t, "2021-03-15", iso)
}

func TestNormalizeDate_DotForm(t *testing.T) {
	iso, ok := NormalizeDate("15.03.2021", time.Now())
	assert.True(t, ok)
	assert.Equal(t, "2021-03-15", iso)
}

func TestNormalizeDate_RussianLongForm(t *testing.T) {
	iso, ok := NormalizeDate("15 марта 2021 года", time.Now())
	assert.True(t, ok)
	assert.Equal(t, "2021-03-15", iso)
}

func TestNormalizeDate_Relative(t *testing.T) {
	ref := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	iso, ok := NormalizeDate("yesterday", ref)
	assert.True(t, ok)
	assert.Equal(t, "2024-06-09", iso)
}

func TestNormalizeDate_RejectsOutOfRangeYear(t *testing.T) {
	_, ok := NormalizeDate("03.03.1850", time.Now())
	assert.False(t, ok)

	_, ok = NormalizeDate("03.03.2200", time.Now())
	assert.False(t, ok)
}

func TestNormalizeDate_UnparsableReturnsNotOK(t *testing.T) {
	_, ok := NormalizeDate("not a date at all !!", time.Now())
	assert.False(t, ok)
}

func TestNormalizeCurrency_RetainsOriginalAndExtractsDigits(t *testing.T) {
	value, normalized := NormalizeCurrency("$1,250,000.50 USD")
	assert.Equal(t, "$1,250,000.50 USD", value)
	assert.Equal(t, "1250000.50", normalized)
}

func TestNormalizeYesNo_CaseInsensitiveMapping(t *testing.T) {
	assert.Equal(t, "Yes", NormalizeYesNo("YES"))
	assert.Equal(t, "Yes", NormalizeYesNo("да"))
	assert.Equal(t, "No", NormalizeYesNo("no"))
	assert.Equal(t, "Unknown", NormalizeYesNo("maybe"))
}

func TestVerbatimDerivable(t *testing.T) {
	source := "The parties agree that the closing date shall be March 15, 2021."
	assert.True(t, VerbatimDerivable("closing date shall be March 15, 2021", source))
	assert.False(t, VerbatimDerivable("a completely unrelated phrase", source))
	assert.False(t, VerbatimDerivable("", source))
}
