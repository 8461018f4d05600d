package localizer

import (
	"fmt"

	"golang.org/x/text/language"
)

// Phrase is an uncompiled literal rule, as loaded from configuration.
type Phrase struct {
	Match       string `yaml:"match" json:"match"`
	Replacement string `yaml:"replacement" json:"replacement"`
	// Regexp treats Match as a regular expression instead of a literal.
	Regexp bool `yaml:"regexp,omitempty" json:"regexp,omitempty"`
}

// Compile turns the phrase into a rule.
func (p Phrase) Compile() (Rule, error) {
	if p.Match == "" {
		return Rule{}, fmt.Errorf("empty match for replacement %q", p.Replacement)
	}
	if p.Regexp {
		return CompileRule(p.Match, p.Replacement)
	}
	return NewRule(p.Match, p.Replacement), nil
}

// CompilePhrases compiles phrases in order.
func CompilePhrases(phrases []Phrase) ([]Rule, error) {
	rules := make([]Rule, 0, len(phrases))
	for i, p := range phrases {
		r, err := p.Compile()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// spanishPhrases covers the capture widget's challenge and status text.
// Longer phrases come first so that a node holding the full sentence is
// rewritten before a shorter fragment could match it.
var spanishPhrases = []Phrase{
	{Match: "Hold face position during countdown", Replacement: "Mantén la posición del rostro durante la cuenta regresiva"},
	{Match: "Hold face in oval", Replacement: "Mantén el rostro dentro del óvalo"},
	{Match: "Hold still", Replacement: "Quédate quieto"},
	{Match: "Move closer", Replacement: "Acércate"},
	{Match: "Move back", Replacement: "Aléjate"},
	{Match: "Too close", Replacement: "Demasiado cerca"},
	{Match: "Move face to fit in oval", Replacement: "Ajusta tu rostro dentro del óvalo"},
	{Match: "Center your face", Replacement: "Centra tu rostro"},
	{Match: "Face didn't fit inside oval in time limit", Replacement: "El rostro no se ajustó al óvalo a tiempo"},
	{Match: "Ensure only one face is in front of camera", Replacement: "Asegúrate de que solo haya un rostro frente a la cámara"},
	{Match: "Move to a brighter area", Replacement: "Muévete a un lugar con más luz"},
	{Match: "Connecting...", Replacement: "Conectando..."},
	{Match: "Verifying...", Replacement: "Verificando..."},
	{Match: "Check complete", Replacement: "Verificación completa"},
	{Match: "Start video check", Replacement: "Iniciar verificación"},
	{Match: "Camera not accessible", Replacement: "No se puede acceder a la cámara"},
	{Match: "Server issue", Replacement: "Problema con el servidor"},
	{Match: "Time out", Replacement: "Tiempo agotado"},
	{Match: "Try again", Replacement: "Intentar de nuevo"},
	{Match: "Cancel", Replacement: "Cancelar"},
}

// catalog holds the built-in rule sets by language.
var catalog = map[language.Tag][]Phrase{
	language.Spanish: spanishPhrases,
}

var supported = []language.Tag{
	language.English, // Index 0 is the fallback: no rewriting.
	language.Spanish,
}

var matcher = language.NewMatcher(supported)

// ResolveLocale returns the best supported language for a BCP 47 locale
// list such as "es-AR" or "es-MX,es;q=0.9".
func ResolveLocale(locale string) language.Tag {
	_, index := language.MatchStrings(matcher, locale)
	return supported[index]
}

// RulesFor returns the built-in rules for locale followed by extra phrases.
// English (or any unsupported locale) yields only the extra phrases.
func RulesFor(locale string, extra []Phrase) ([]Rule, error) {
	tag := ResolveLocale(locale)
	phrases := make([]Phrase, 0, len(catalog[tag])+len(extra))
	phrases = append(phrases, extra...)
	phrases = append(phrases, catalog[tag]...)
	return CompilePhrases(phrases)
}
