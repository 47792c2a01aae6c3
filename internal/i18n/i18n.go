// Package i18n holds the message catalog shared by spoken instructions and
// the formatted trip figures sent to the browser.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported lists the languages with a translation, English first as the
// fallback.
var Supported = []language.Tag{language.English, language.Ukrainian}

var matcher = language.NewMatcher(Supported)

// Messages are keyed by their English text.
var ukrainian = map[string]string{
	"Continue":                             "Продовжуйте рух",
	"Continue onto %s":                     "Продовжуйте рух по %s",
	"Turn left":                            "Поверніть ліворуч",
	"Turn left onto %s":                    "Поверніть ліворуч на %s",
	"Turn right":                           "Поверніть праворуч",
	"Turn right onto %s":                   "Поверніть праворуч на %s",
	"Turn slight left":                     "Плавно поверніть ліворуч",
	"Turn slight left onto %s":             "Плавно поверніть ліворуч на %s",
	"Turn slight right":                    "Плавно поверніть праворуч",
	"Turn slight right onto %s":            "Плавно поверніть праворуч на %s",
	"Turn sharp left":                      "Різко поверніть ліворуч",
	"Turn sharp left onto %s":              "Різко поверніть ліворуч на %s",
	"Turn sharp right":                     "Різко поверніть праворуч",
	"Turn sharp right onto %s":             "Різко поверніть праворуч на %s",
	"Keep left":                            "Тримайтеся лівіше",
	"Keep right":                           "Тримайтеся правіше",
	"Make a U-turn":                        "Розверніться",
	"Enter the roundabout":                 "В'їжджайте на кільце",
	"Leave the roundabout":                 "З'їжджайте з кільця",
	"Waypoint reached":                     "Проміжну точку досягнуто",
	"You have arrived at your destination": "Ви прибули до місця призначення",
	"Recalculating route":                  "Перераховую маршрут",
	"Could not find a route":               "Не вдалося знайти маршрут",
	"%d m":                                 "%d м",
	"%.1f km":                              "%.1f км",
	"%d ft":                                "%d фт",
	"%.1f mi":                              "%.1f милі",
	"<1 min":                               "<1 хв",
	"%d min":                               "%d хв",
	"%d h":                                 "%d год",
	"%d h %d min":                          "%d год %d хв",
}

var cat = newCatalog()

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, translated := range ukrainian {
		if err := b.SetString(language.English, key, key); err != nil {
			panic(err)
		}
		if err := b.SetString(language.Ukrainian, key, translated); err != nil {
			panic(err)
		}
	}
	return b
}

// Match resolves a BCP 47 tag such as "uk-UA" to the closest supported
// language. Unparsable or unknown tags resolve to English.
func Match(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return Supported[idx]
}

// Printer returns a printer for the closest supported language.
func Printer(lang string) *message.Printer {
	return message.NewPrinter(Match(lang), message.Catalog(cat))
}

// Sprintf formats a catalog message in the given language.
func Sprintf(lang, key string, args ...interface{}) string {
	return Printer(lang).Sprintf(key, args...)
}
