package mediactl

import (
	"embed"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/jeandeaual/go-locale"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

const autoLanguage = "auto"

//go:embed lang/active.*.toml
var langFS embed.FS

// newBundle loads every embedded translation on top of the English defaults
func newBundle() (*i18n.Bundle, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	entries, err := langFS.ReadDir("lang")
	if err != nil {
		return nil, fmt.Errorf("list message files: %w", err)
	}

	for _, entry := range entries {
		if _, err := bundle.LoadMessageFileFS(langFS, "lang/"+entry.Name()); err != nil {
			return nil, fmt.Errorf("load message file %s: %w", entry.Name(), err)
		}
	}

	return bundle, nil
}

// newLocalizer picks the UI language, "auto" meaning the system locale
func newLocalizer(bundle *i18n.Bundle, lang string) (*i18n.Localizer, string, error) {
	if lang == "" || lang == autoLanguage {
		var err error

		lang, err = locale.GetLanguage()
		if err != nil {
			return nil, "", fmt.Errorf("get system locale: %w", err)
		}
	}

	return i18n.NewLocalizer(bundle, lang, language.English.String()), lang, nil
}

// localize renders a message, falling back to the English default if the localizer
// is missing or the translation is broken
func localize(localizer *i18n.Localizer, id, other string, data map[string]string) string {
	message := &i18n.Message{ID: id, Other: other}

	if localizer == nil {
		localizer = i18n.NewLocalizer(i18n.NewBundle(language.English))
	}

	text, err := localizer.Localize(&i18n.LocalizeConfig{
		DefaultMessage: message,
		TemplateData:   data,
	})
	// a missing translation still renders the default message
	if err != nil && text == "" {
		return other
	}

	return text
}
