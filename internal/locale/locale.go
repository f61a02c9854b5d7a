// Package locale holds the bot's user-facing strings and resolves them by
// language with a fallback to the default language.
package locale

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLanguage is used when no other default is configured.
const DefaultLanguage = "ru"

// String keys.
const (
	Agree           = "agree"
	AgreementInfo   = "agreementInfo"
	Contacts        = "contacts"
	Donate          = "donate"
	DoYouAgree      = "doYouAgree"
	Feedback        = "feedback"
	HowCanWeHelp    = "howCanWeHelp"
	Info            = "info"
	No              = "no"
	Thank           = "thank"
	WeCannotProceed = "weCannotProceed"
	WelcomeBack     = "welcomeBack"
	Yes             = "yes"
)

// Catalog resolves keys against per-language tables.
type Catalog struct {
	tables   map[string]map[string]string
	fallback string
}

// New returns a catalog over the built-in tables whose fallback language is
// defaultLang. An unknown defaultLang falls back to DefaultLanguage.
func New(defaultLang string) *Catalog {
	c := &Catalog{tables: builtin, fallback: DefaultLanguage}
	if base := Base(defaultLang); base != "" {
		if _, ok := builtin[base]; ok {
			c.fallback = base
		}
	}
	return c
}

// Default is the catalog used by Lookup.
var Default = New(DefaultLanguage)

// Lookup resolves key for lang through the Default catalog.
func Lookup(lang, key string) string {
	return Default.Get(lang, key)
}

// Fallback returns the catalog's default language.
func (c *Catalog) Fallback() string {
	return c.fallback
}

// Get returns the string for key in lang. A language without the key, or a
// language with no table at all, resolves through the default language.
// Unknown keys yield "".
func (c *Catalog) Get(lang, key string) string {
	if table, ok := c.tables[Base(lang)]; ok {
		if s, ok := table[key]; ok {
			return s
		}
	}
	return c.tables[c.fallback][key]
}

// Keys lists the keys lang defines itself, sorted.
func (c *Catalog) Keys(lang string) []string {
	table := c.tables[Base(lang)]
	out := make([]string, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Base reduces a language tag such as "en-US" to its base language "en".
// Tags that do not parse are lowercased and returned as is.
func Base(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}
	base, _ := t.Base()
	return base.String()
}
