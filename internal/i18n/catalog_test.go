package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRendersFrench(t *testing.T) {
	assert.Equal(t, "Amortissements non calculés", Default("DEPRECIATION_NOT_CALCULATED"))
	assert.Equal(t, "Période d'ajustement non clôturée", Default("ADJUSTMENT_PERIOD_OPEN"))
	assert.Equal(t, "3 période(s) mensuelle(s) non clôturée(s)", Default("MONTHLY_PERIODS_OPEN", 3))
}

func TestSprintfEnglish(t *testing.T) {
	assert.Equal(t, "Depreciation not calculated", Sprintf(English, "DEPRECIATION_NOT_CALCULATED"))
	assert.Equal(t, "2 monthly period(s) not closed", Sprintf(English, "MONTHLY_PERIODS_OPEN", 2))
}

func TestMatchAcceptLanguage(t *testing.T) {
	cases := map[string]string{
		"":                    "fr",
		"en-US,en;q=0.9":      "en",
		"fr-CI":               "fr",
		"de-DE":               "fr",
		"not a language;;;q=": "fr",
	}
	for header, want := range cases {
		got := Match(header)
		base, _ := got.Base()
		assert.Equal(t, want, base.String(), "header %q", header)
	}
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("REASON_REQUIRED"))
	assert.False(t, Known("NOPE"))
}
