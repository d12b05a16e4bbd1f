// Package classify refines artifact kinds from filename heuristics. Node
// hints are frequently wrong for community loaders; these rules take
// precedence so routing queries the catalog that actually hosts the file.
package classify

import (
	"strings"

	"github.com/standardbeagle/mdr/internal/types"
)

// Rule is one filename predicate. All set fields must hold for the rule to
// fire; rules are evaluated in declared order and the first match wins.
type Rule struct {
	Suffix          string
	ContainsAny     []string
	AlsoContainsAny []string
	Kind            types.Kind
}

// DefaultRules is the stock override table.
var DefaultRules = []Rule{
	{ContainsAny: []string{"vae"}, Kind: types.KindVAE},
	{ContainsAny: []string{"lora", "rank"}, Kind: types.KindLora},
	{Suffix: ".gguf", ContainsAny: []string{"encoder", "umt5", "t5", "clip"}, Kind: types.KindTextEncoder},
	{Suffix: ".gguf", Kind: types.KindUNet},
	{Suffix: ".onnx", Kind: types.KindReactor},
	{Suffix: ".pth", ContainsAny: []string{"gfpgan"}, Kind: types.KindReactor},
	{
		ContainsAny:     []string{"lora", "style", "anime", "cartoon", "cute", "detail", "tweaker"},
		AlsoContainsAny: []string{"flux", "sdxl", "sd15", "sd21"},
		Kind:            types.KindLora,
	},
}

func (r Rule) matches(lower string) bool {
	if r.Suffix != "" && !strings.HasSuffix(lower, r.Suffix) {
		return false
	}
	if len(r.ContainsAny) > 0 && !containsAny(lower, r.ContainsAny) {
		return false
	}
	if len(r.AlsoContainsAny) > 0 && !containsAny(lower, r.AlsoContainsAny) {
		return false
	}
	return true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Override returns the kind forced by the first matching rule, or hint when
// no rule fires. The result depends only on the filename, so applying it
// twice yields the same kind.
func Override(rules []Rule, filename string, hint types.Kind) types.Kind {
	lower := strings.ToLower(filename)
	for _, r := range rules {
		if r.matches(lower) {
			return r.Kind
		}
	}
	return hint
}

// Apply rewrites the kind of every reference in place using the rule table.
func Apply(rules []Rule, refs []types.ArtifactRef) {
	for i := range refs {
		refs[i].Kind = Override(rules, refs[i].Filename, refs[i].Kind)
	}
}
