package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

//go:embed locales
var LocalesFS embed.FS

const DefaultLang = "ru"

type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = langCode
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

func (t *Translator) Lang() string { return t.lang }

// T returns the translation for key, formatted with args; unknown keys come back as-is.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Bundle holds one translator per language and falls back to DefaultLang.
type Bundle struct {
	byLang map[string]*Translator
}

func NewBundle(fsys fs.FS, langs ...string) (*Bundle, error) {
	if len(langs) == 0 {
		langs = []string{DefaultLang, "en"}
	}
	b := &Bundle{byLang: make(map[string]*Translator, len(langs))}
	for _, l := range langs {
		t, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		b.byLang[l] = t
	}
	if _, ok := b.byLang[DefaultLang]; !ok {
		return nil, fmt.Errorf("default language %q not loaded", DefaultLang)
	}
	return b, nil
}

// For picks a translator from a language tag or an Accept-Language value.
func (b *Bundle) For(lang string) *Translator {
	for _, part := range strings.Split(lang, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		tag = strings.SplitN(tag, "-", 2)[0]
		if t, ok := b.byLang[tag]; ok {
			return t
		}
	}
	return b.byLang[DefaultLang]
}

// FormatMoney renders kopecks as rubles with two decimals.
func FormatMoney(kopecks int64) string {
	return decimal.New(kopecks, -2).StringFixed(2)
}

// OutcomeMessage is the user-facing text for a resolved payment.
func OutcomeMessage(t *Translator, o model.Outcome) string {
	subject := t.T("subject." + string(o.SubjectKind))
	switch o.Reason {
	case model.ReasonPaid:
		return t.T("payment.success", subject, FormatMoney(o.Amount))
	case model.ReasonCanceled:
		return t.T("payment.canceled", subject)
	case model.ReasonRefunded:
		return t.T("payment.refunded", subject)
	case model.ReasonTimeout:
		return t.T("payment.timeout", subject)
	}
	return t.T("payment.failed", subject)
}

// OutcomeTitle is the short heading for a resolved payment page.
func OutcomeTitle(t *Translator, o model.Outcome) string {
	switch o.Kind {
	case model.OutcomeSuccess:
		return t.T("page.title.success")
	case model.OutcomeRefunded:
		return t.T("page.title.refunded")
	}
	return t.T("page.title.failure")
}
