package mediactl

import (
	"testing"

	"github.com/nicksnyder/go-i18n/v2/i18n"
)

func TestLocalize(t *testing.T) {
	bundle, err := newBundle()
	if err != nil {
		t.Fatalf("newBundle() error = %v", err)
	}

	ru, lang, err := newLocalizer(bundle, "ru")
	if err != nil {
		t.Fatalf("newLocalizer() error = %v", err)
	}
	if lang != "ru" {
		t.Errorf("lang = %q, want ru", lang)
	}

	en, _, err := newLocalizer(bundle, "en")
	if err != nil {
		t.Fatalf("newLocalizer() error = %v", err)
	}

	data := map[string]string{"Session": "vlc"}

	tests := []struct {
		name      string
		localizer *i18n.Localizer
		want      string
	}{
		{"russian", ru, "Теперь управляем vlc"},
		{"english", en, "Now controlling vlc"},
		{"no localizer", nil, "Now controlling vlc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := localize(tt.localizer, "ActiveSessionChangedTitle", "Now controlling {{.Session}}", data)
			if got != tt.want {
				t.Errorf("localize() = %q, want %q", got, tt.want)
			}
		})
	}

	// unknown ids fall back to the default text
	if got := localize(ru, "MissingMessage", "fallback", nil); got != "fallback" {
		t.Errorf("localize() = %q, want fallback", got)
	}
}
