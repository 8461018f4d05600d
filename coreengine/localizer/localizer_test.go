package localizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/testutil"
)

func spanish(t *testing.T) []localizer.Rule {
	t.Helper()
	rules, err := localizer.RulesFor("es-MX", nil)
	require.NoError(t, err)
	return rules
}

// =============================================================================
// RULE TESTS
// =============================================================================

func TestRule_LiteralIsCaseInsensitive(t *testing.T) {
	r := localizer.NewRule("Hold still", "Quédate quieto")

	out, changed := r.Apply("HOLD STILL")
	assert.True(t, changed)
	assert.Equal(t, "Quédate quieto", out)

	out, changed = r.Apply("Quédate quieto")
	assert.False(t, changed)
	assert.Equal(t, "Quédate quieto", out)
}

func TestRule_LiteralQuotesMeta(t *testing.T) {
	r := localizer.NewRule("Connecting...", "Conectando...")

	_, changed := r.Apply("Connectingxxx")
	assert.False(t, changed)

	out, changed := r.Apply("Connecting...")
	assert.True(t, changed)
	assert.Equal(t, "Conectando...", out)
}

func TestCompileRule_InvalidPattern(t *testing.T) {
	_, err := localizer.CompileRule("(", "x")
	assert.Error(t, err)
}

func TestCompilePhrases(t *testing.T) {
	rules, err := localizer.CompilePhrases([]localizer.Phrase{
		{Match: "Hello", Replacement: "Hola"},
		{Match: `^\d+ seconds?$`, Replacement: "segundos", Regexp: true},
	})
	require.NoError(t, err)
	require.Len(t, rules, 2)

	out, changed := rules[1].Apply("12 seconds")
	assert.True(t, changed)
	assert.Equal(t, "segundos", out)
}

func TestCompilePhrases_Errors(t *testing.T) {
	_, err := localizer.CompilePhrases([]localizer.Phrase{{Match: "", Replacement: "x"}})
	assert.ErrorContains(t, err, "rule 0")

	_, err = localizer.CompilePhrases([]localizer.Phrase{
		{Match: "ok", Replacement: "ok"},
		{Match: "[", Replacement: "x", Regexp: true},
	})
	assert.ErrorContains(t, err, "rule 1")
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestResolveLocale(t *testing.T) {
	tests := []struct {
		locale string
		want   language.Tag
	}{
		{"es", language.Spanish},
		{"es-AR", language.Spanish},
		{"es-MX,es;q=0.9", language.Spanish},
		{"en-US", language.English},
		{"", language.English},
		{"ja", language.English},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			base, _ := localizer.ResolveLocale(tt.locale).Base()
			want, _ := tt.want.Base()
			assert.Equal(t, want, base)
		})
	}
}

func TestRulesFor_EnglishHasNoBuiltins(t *testing.T) {
	rules, err := localizer.RulesFor("en", nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRulesFor_ExtraPhrasesComeFirst(t *testing.T) {
	rules, err := localizer.RulesFor("es", []localizer.Phrase{{Match: "Hold still", Replacement: "No te muevas"}})
	require.NoError(t, err)

	l := localizer.New(rules, nil)
	assert.Equal(t, "No te muevas", l.Translate("Hold still"))
}

// =============================================================================
// LOCALIZER TESTS
// =============================================================================

func TestLocalizer_Translate(t *testing.T) {
	l := localizer.New(spanish(t), nil)

	assert.Equal(t, "Quédate quieto", l.Translate("Hold still"))
	assert.Equal(t, "Cancelar", l.Translate("Cancel"))
	assert.Equal(t, "Intentar de nuevo", l.Translate("Try again"))
	assert.Equal(t, "Unrelated", l.Translate("Unrelated"))
}

func TestLocalizer_PassIsIdempotent(t *testing.T) {
	surface := testutil.NewFakeSurface("Hold still", "Cancel", "Unrelated")
	var rewrites []int
	l := localizer.New(spanish(t), func(n int) { rewrites = append(rewrites, n) })

	assert.Equal(t, 2, l.Pass(surface))
	assert.Equal(t, []string{"Quédate quieto", "Cancelar", "Unrelated"}, surface.Texts())

	assert.Equal(t, 0, l.Pass(surface))
	assert.Equal(t, []int{2}, rewrites)
}

func TestLocalizer_PassNilTree(t *testing.T) {
	l := localizer.New(spanish(t), nil)
	assert.Equal(t, 0, l.Pass(nil))
}

func TestLocalizer_AttachRewritesLateText(t *testing.T) {
	surface := testutil.NewFakeSurface("Start video check")
	l := localizer.New(spanish(t), nil)

	l.Attach(surface, surface)
	assert.Equal(t, []string{"Iniciar verificación"}, surface.Texts())

	node := surface.AddText("Hold still")
	assert.Equal(t, "Quédate quieto", node.Text())

	node.SetText("Move closer")
	assert.Equal(t, "Acércate", node.Text())
}

func TestLocalizer_OwnRewritesConverge(t *testing.T) {
	surface := testutil.NewFakeSurface()
	l := localizer.New(spanish(t), nil)
	l.Attach(surface, surface)

	before := surface.Mutations()
	surface.AddText("Hold still")
	surface.AddText("Try again")

	assert.Equal(t, []string{"Quédate quieto", "Intentar de nuevo"}, surface.Texts())
	// Two additions plus one notification per rewritten node.
	assert.Equal(t, before+4, surface.Mutations())
}

func TestLocalizer_DetachStopsRewriting(t *testing.T) {
	surface := testutil.NewFakeSurface()
	l := localizer.New(spanish(t), nil)

	l.Attach(surface, surface)
	mutation, _ := surface.ObserverCounts()
	assert.Equal(t, 1, mutation)

	l.Detach()
	mutation, _ = surface.ObserverCounts()
	assert.Equal(t, 0, mutation)

	node := surface.AddText("Hold still")
	assert.Equal(t, "Hold still", node.Text())

	l.Detach()
}

func TestLocalizer_ReattachReplacesSubscription(t *testing.T) {
	surface := testutil.NewFakeSurface()
	l := localizer.New(spanish(t), nil)

	l.Attach(surface, surface)
	l.Attach(surface, surface)

	mutation, _ := surface.ObserverCounts()
	assert.Equal(t, 1, mutation)
}

func TestLocalizer_RulesReturnsCopy(t *testing.T) {
	rules := spanish(t)
	l := localizer.New(rules, nil)

	got := l.Rules()
	got[0].Replacement = "mutated"
	assert.NotEqual(t, "mutated", l.Rules()[0].Replacement)
}
