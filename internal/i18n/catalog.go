// Package i18n renders stable message codes into user-facing text.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var (
	// French is the default rendering language.
	French = language.French
	// English is the secondary supported language.
	English = language.English
)

var supported = []language.Tag{French, English}

type entry struct {
	fr string
	en string
}

// Keys are the stable codes exposed by the fiscal package.
var entries = map[string]entry{
	"PERIOD_NOT_FOUND":               {fr: "period not found", en: "period not found"},
	"FISCAL_YEAR_NOT_FOUND":          {fr: "Exercice introuvable", en: "Fiscal year not found"},
	"ENTRIES_NOT_POSTED":             {fr: "Écritures non validées (%d en brouillard)", en: "Journal entries not posted (%d drafts)"},
	"BANK_RECONCILIATION_INCOMPLETE": {fr: "Rapprochements bancaires incomplets (%d en attente)", en: "Bank reconciliations incomplete (%d pending)"},
	"DEPRECIATION_NOT_CALCULATED":    {fr: "Amortissements non calculés", en: "Depreciation not calculated"},
	"ACCRUALS_NOT_RECORDED":          {fr: "Provisions non comptabilisées", en: "Accruals not recorded"},
	"OPEN_JOURNALS":                  {fr: "Journaux non clôturés (%d ouverts)", en: "Journals still open (%d open)"},
	"MONTHLY_PERIODS_OPEN":           {fr: "%d période(s) mensuelle(s) non clôturée(s)", en: "%d monthly period(s) not closed"},
	"ADJUSTMENT_PERIOD_OPEN":         {fr: "Période d'ajustement non clôturée", en: "Adjustment period not closed"},
	"ADJUSTMENT_PERIOD_MISSING":      {fr: "Période d'ajustement absente", en: "Adjustment period missing"},
	"TRIAL_BALANCE_UNBALANCED":       {fr: "Balance générale déséquilibrée (écart %d)", en: "Trial balance unbalanced (difference %d)"},
	"PERIODS_NOT_CLOSED":             {fr: "%d période(s) encore ouverte(s)", en: "%d period(s) still open"},
	"UNBALANCED_ENTRIES":             {fr: "%d écriture(s) déséquilibrée(s)", en: "%d unbalanced entry(ies)"},
	"ENTRIES_OUTSIDE_PERIOD":         {fr: "%d écriture(s) datée(s) hors période", en: "%d entry(ies) dated outside the period"},
	"UNKNOWN_ACCOUNT_LINES":          {fr: "%d ligne(s) sur des comptes inconnus ou inactifs", en: "%d line(s) on unknown or inactive accounts"},
	"FIX_UNBALANCED_ENTRIES":         {fr: "Corriger les écritures déséquilibrées avant régénération", en: "Fix unbalanced entries before regenerating"},
	"MOVE_ENTRIES_TO_PERIOD":         {fr: "Réaffecter les écritures à la bonne période", en: "Move entries to their matching period"},
	"REMAP_ACCOUNT_LINES":            {fr: "Réaffecter les lignes vers des comptes actifs", en: "Remap lines to active accounts"},
	"CHECK_PERIOD_ID":                {fr: "Vérifier l'identifiant de la période", en: "Check the period identifier"},
	"ACCOUNT_REJECTED":               {fr: "Compte %s rejeté : mouvements négatifs", en: "Account %s rejected: negative movements"},
	"OPENING_BALANCES_UNAVAILABLE":   {fr: "Soldes d'ouverture indisponibles", en: "Opening balances unavailable"},
	"NO_ACCOUNT_ACTIVITY":            {fr: "Aucun mouvement sur la période", en: "No account activity in the period"},
	"REPORT_REFRESH_FAILED":          {fr: "Actualisation des états financiers échouée", en: "Financial statement refresh failed"},
	"INVALID_YEAR":                   {fr: "Année invalide", en: "Invalid year"},
	"ENTITY_REQUIRED":                {fr: "Entité requise", en: "Entity required"},
	"REASON_REQUIRED":                {fr: "Motif requis", en: "Reason required"},
	"INVALID_DATE_RANGE":             {fr: "La date de début doit précéder la date de fin", en: "Start date must precede end date"},
	"FISCAL_YEAR_EXISTS":             {fr: "Exercice déjà existant pour cette entité", en: "Fiscal year already exists for this entity"},
	"ADJUSTMENTS_FAILED":             {fr: "Génération des écritures d'ajustement échouée", en: "Adjustment entry generation failed"},
	"CLOSE_FAILED":                   {fr: "Clôture impossible", en: "Close failed"},
}

var cat = newCatalog()

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(French))
	for key, e := range entries {
		_ = b.SetString(French, key, e.fr)
		_ = b.SetString(English, key, e.en)
	}
	return b
}

var matcher = language.NewMatcher(supported)

// Sprintf renders the message code in the requested language.
func Sprintf(tag language.Tag, code string, args ...any) string {
	p := message.NewPrinter(tag, message.Catalog(cat))
	return p.Sprintf(code, args...)
}

// Default renders the message code in French.
func Default(code string, args ...any) string {
	return Sprintf(French, code, args...)
}

// Known reports whether the code has catalog entries.
func Known(code string) bool {
	_, ok := entries[code]
	return ok
}

// Match picks the best supported language for an Accept-Language header value.
func Match(acceptLanguage string) language.Tag {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return French
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return French
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Parse resolves a configured locale name, defaulting to French.
func Parse(locale string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return French
	}
	_, idx, _ := matcher.Match(tag)
	return supported[idx]
}
