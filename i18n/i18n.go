// Package i18n localizes potr's own user-facing strings.
//
// Catalogs are embedded from locales/{lang}/LC_MESSAGES/potr.po and loaded
// with gotext. Before Init is called, T and N return the source strings.
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

// Domain is the gettext domain of potr's catalogs.
const Domain = "potr"

var locale *gotext.Locale

// Init loads the catalog for lang. An empty lang is taken from the
// environment (LANGUAGE, LC_ALL, LC_MESSAGES, LANG). It returns the
// language that was selected.
func Init(lang string) string {
	if lang == "" {
		lang = localeFromEnv()
	}
	locale = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	locale.AddDomain(Domain)
	locale.SetDomain(Domain)
	return lang
}

// T translates msgid, or returns it unchanged when no translation exists.
func T(msgid string, vars ...any) string {
	if locale == nil {
		return sprintf(msgid, vars...)
	}
	return locale.Get(msgid, vars...)
}

// N translates a count-dependent message. The plural rule comes from the
// catalog; without one, n == 1 selects singular.
func N(singular, plural string, n int, vars ...any) string {
	if locale == nil {
		if n == 1 {
			return sprintf(singular, vars...)
		}
		return sprintf(plural, vars...)
	}
	return locale.GetN(singular, plural, n, vars...)
}

func sprintf(format string, vars ...any) string {
	if len(vars) == 0 {
		return format
	}
	return gotext.FormatString(format, vars...)
}

// localeFromEnv follows the GNU gettext variable priority:
// LANGUAGE > LC_ALL > LC_MESSAGES > LANG.
func localeFromEnv() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if val == "" {
			continue
		}
		// LANGUAGE is a colon-separated preference list
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		// "ru_RU.UTF-8@euro" -> "ru_RU"
		if idx := strings.IndexAny(val, ".@"); idx >= 0 {
			val = val[:idx]
		}
		if val == "" || val == "C" || val == "POSIX" {
			continue
		}
		return val
	}
	return "en"
}
