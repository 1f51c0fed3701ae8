package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Languages the assistant can answer in
var Supported = []string{"en", "hi", "es"}

// FallbackLanguage is used for any code outside Supported
const FallbackLanguage = "en"

// Localizer manages internationalization
type Localizer struct {
	bundle     *i18n.Bundle
	localizers map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer() (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range Supported {
		file := path.Join("locales", lang+".json")
		buf, err := localeFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read language file %s: %w", lang, err)
		}
		if _, err := bundle.ParseMessageFileBytes(buf, file); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range Supported {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:     bundle,
		localizers: localizers,
	}, nil
}

// Resolve maps a client-supplied language code onto a supported language.
// Only the exact codes in Supported are recognized; everything else,
// including regional tags and other casings, resolves to FallbackLanguage.
func (l *Localizer) Resolve(code string) string {
	code = strings.TrimSpace(code)
	if _, ok := l.localizers[code]; ok {
		return code
	}
	return FallbackLanguage
}

// Directive returns the instruction telling the model which language to reply in
func (l *Localizer) Directive(code string) string {
	return l.Get(l.Resolve(code), MsgLanguageDirective, nil)
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[FallbackLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgLanguageDirective = "language_directive"
)
