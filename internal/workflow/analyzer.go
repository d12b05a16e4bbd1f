// Package workflow extracts model artifact references from node-graph
// workflow documents. Detection runs several strategies per node; results
// are unioned across nodes and deduplicated by filename.
package workflow

import (
	"encoding/json"
	"log"
	"sort"
	"strings"

	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/registry"
	"github.com/standardbeagle/mdr/internal/types"
)

// skipTypes are documentation nodes whose widgets carry prose, not models.
var skipTypes = map[string]struct{}{
	"Note":          {},
	"MarkdownNote":  {},
	"PrimitiveNode": {},
}

// node is one decoded workflow node. Legacy-format documents map node ids to
// {class_type, inputs}; graph-format documents carry a nodes array.
type node struct {
	id      string
	typ     string
	widgets []any
	inputs  map[string]any
}

// Analyze decodes a workflow document and returns its deduplicated artifact
// references. An empty workflow yields zero references; a document that is
// not a JSON object fails with InvalidInput.
func Analyze(data []byte) ([]types.ArtifactRef, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, mdrerrors.New(mdrerrors.ErrorTypeInvalidInput, "workflow.analyze", err).
			WithDetail("document is not a JSON object")
	}

	var nodes []node
	if raw, ok := doc["nodes"]; ok {
		parsed, err := decodeGraphNodes(raw)
		if err != nil {
			return nil, err
		}
		nodes = parsed
	} else {
		nodes = decodeLegacyNodes(doc)
	}

	var refs []types.ArtifactRef
	for _, n := range nodes {
		if _, skip := skipTypes[n.typ]; skip {
			continue
		}
		refs = append(refs, analyzeNode(n)...)
	}
	return Dedupe(refs), nil
}

func decodeGraphNodes(raw json.RawMessage) ([]node, error) {
	var rawNodes []json.RawMessage
	if err := json.Unmarshal(raw, &rawNodes); err != nil {
		return nil, mdrerrors.New(mdrerrors.ErrorTypeInvalidInput, "workflow.analyze", err).
			WithDetail("nodes is not an array")
	}
	nodes := make([]node, 0, len(rawNodes))
	for i, rn := range rawNodes {
		var v struct {
			ID      json.Number    `json:"id"`
			Type    string         `json:"type"`
			Widgets []any          `json:"widgets_values"`
			Inputs  map[string]any `json:"inputs"`
		}
		if err := json.Unmarshal(rn, &v); err != nil {
			log.Printf("workflow: skipping malformed node %d: %v", i, err)
			continue
		}
		nodes = append(nodes, node{
			id:      v.ID.String(),
			typ:     v.Type,
			widgets: v.Widgets,
			inputs:  v.Inputs,
		})
	}
	return nodes, nil
}

// decodeLegacyNodes handles the API-format document: a map of node id to
// {class_type, inputs}. Ids are visited in sorted order so analysis stays
// deterministic; non-node values are ignored.
func decodeLegacyNodes(doc map[string]json.RawMessage) []node {
	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var nodes []node
	for _, id := range ids {
		var v struct {
			ClassType string         `json:"class_type"`
			Inputs    map[string]any `json:"inputs"`
		}
		if err := json.Unmarshal(doc[id], &v); err != nil || v.Inputs == nil {
			continue
		}
		nodes = append(nodes, node{id: id, typ: v.ClassType, inputs: v.Inputs})
	}
	return nodes
}

// analyzeNode runs the detection strategies in order; the first strategy
// that yields at least one filename wins for this node.
func analyzeNode(n node) []types.ArtifactRef {
	strategies := []func(node) []types.ArtifactRef{
		detectKnownLoader,
		detectFluxSpecific,
		detectPathWalk,
		detectWidgetScan,
		detectGGUFHint,
		detectCustomNode,
	}
	for _, detect := range strategies {
		if refs := detect(n); len(refs) > 0 {
			return refs
		}
	}
	return nil
}

func detectKnownLoader(n node) []types.ArtifactRef {
	var refs []types.ArtifactRef
	if entry, ok := registry.Lookup(n.typ); ok {
		for _, w := range n.widgets {
			if s, ok := w.(string); ok && hasAnyExtension(s, entry.Extensions) {
				refs = append(refs, makeRef(s, entry.Kind, n, types.DetectKnownLoader))
			}
		}
	}
	// Legacy-format loaders carry the filename in a named input; the input
	// name alone identifies the kind, whatever the class type is.
	for _, name := range sortedKeys(n.inputs) {
		kind, known := registry.InputKinds[name]
		if !known {
			continue
		}
		if s, ok := n.inputs[name].(string); ok && keywords.HasModelExtension(s) {
			refs = append(refs, makeRef(s, kind, n, types.DetectKnownLoader))
		}
	}
	return refs
}

// detectFluxSpecific covers UNet, dual-CLIP and GGUF loader variants. Their
// widget ordering differs between custom node packs, so every matching
// widget is taken.
func detectFluxSpecific(n node) []types.ArtifactRef {
	entry, ok := registry.LookupFlux(n.typ)
	if !ok {
		return nil
	}
	var refs []types.ArtifactRef
	for _, w := range n.widgets {
		s, ok := w.(string)
		if !ok || !hasAnyExtension(s, entry.Extensions) {
			continue
		}
		kind := entry.Kind
		if strings.HasSuffix(strings.ToLower(s), ".gguf") {
			kind = ggufKind(s, entry.Kind)
		}
		refs = append(refs, makeRef(s, kind, n, types.DetectFluxSpecific))
	}
	return refs
}

// detectPathWalk finds path-like strings anywhere in the node that end in a
// recognized extension. A canonical directory name inside the path supplies
// the kind.
func detectPathWalk(n node) []types.ArtifactRef {
	var refs []types.ArtifactRef
	visit := func(s string) {
		if !strings.ContainsAny(s, `/\`) || !keywords.HasModelExtension(s) {
			return
		}
		kind := types.KindUnknown
		for _, seg := range strings.FieldsFunc(s, func(r rune) bool {
			return r == '/' || r == '\\'
		}) {
			if k, ok := registry.SubdirKinds[strings.ToLower(seg)]; ok {
				kind = k
			}
		}
		refs = append(refs, makeRef(baseName(s), kind, n, types.DetectPathWalk))
	}
	walkStrings(n.inputs, visit)
	for _, w := range n.widgets {
		walkStrings(w, visit)
	}
	return refs
}

// detectWidgetScan catches model filenames in widgets of unrecognized node
// types. GGUF files are left for the gguf strategy, which knows their kinds.
func detectWidgetScan(n node) []types.ArtifactRef {
	var refs []types.ArtifactRef
	for _, w := range n.widgets {
		s, ok := w.(string)
		if !ok || !keywords.HasModelExtension(s) {
			continue
		}
		if strings.HasSuffix(strings.ToLower(s), ".gguf") {
			continue
		}
		refs = append(refs, makeRef(s, types.KindUnknown, n, types.DetectWidgetScan))
	}
	return refs
}

func detectGGUFHint(n node) []types.ArtifactRef {
	var refs []types.ArtifactRef
	visit := func(s string) {
		if strings.HasSuffix(strings.ToLower(s), ".gguf") {
			refs = append(refs, makeRef(s, ggufKind(s, types.KindUNet), n, types.DetectGGUFHint))
		}
	}
	for _, w := range n.widgets {
		walkStrings(w, visit)
	}
	walkStrings(n.inputs, visit)
	return refs
}

// detectCustomNode handles community loaders that nest filenames inside
// widget objects, like the rgthree power lora loader.
func detectCustomNode(n node) []types.ArtifactRef {
	entry, ok := registry.LookupCustom(n.typ)
	if !ok {
		return nil
	}
	var refs []types.ArtifactRef
	for _, w := range n.widgets {
		m, ok := w.(map[string]any)
		if !ok {
			continue
		}
		for _, v := range m {
			if s, ok := v.(string); ok && hasAnyExtension(s, entry.Extensions) {
				refs = append(refs, makeRef(s, entry.Kind, n, types.DetectCustomNode))
			}
		}
	}
	return refs
}

// Dedupe groups references by filename (case-insensitive) and keeps the
// most specific kind per group, preserving first-seen order.
func Dedupe(refs []types.ArtifactRef) []types.ArtifactRef {
	byName := make(map[string]int)
	var out []types.ArtifactRef
	for _, ref := range refs {
		key := strings.ToLower(ref.Filename)
		if i, seen := byName[key]; seen {
			if ref.Kind.MoreSpecificThan(out[i].Kind) {
				out[i].Kind = ref.Kind
				out[i].NodeID = ref.NodeID
				out[i].NodeType = ref.NodeType
				out[i].Strategy = ref.Strategy
			}
			continue
		}
		byName[key] = len(out)
		out = append(out, ref)
	}
	return out
}

func makeRef(filename string, kind types.Kind, n node, strategy types.DetectionStrategy) types.ArtifactRef {
	return types.ArtifactRef{
		Filename: baseName(filename),
		Kind:     kind,
		NodeID:   n.id,
		NodeType: n.typ,
		Strategy: strategy,
	}
}

// ggufKind classifies a .gguf filename: encoder-family names are text
// encoders, everything else defaults to the given kind.
func ggufKind(filename string, fallback types.Kind) types.Kind {
	lower := strings.ToLower(filename)
	for _, marker := range []string{"encoder", "umt5", "t5", "clip"} {
		if strings.Contains(lower, marker) {
			return types.KindTextEncoder
		}
	}
	if fallback == types.KindCLIP || fallback == types.KindTextEncoder {
		return fallback
	}
	return types.KindUNet
}

func hasAnyExtension(s string, exts []string) bool {
	lower := strings.ToLower(s)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func baseName(s string) string {
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		return s[i+1:]
	}
	return s
}

// walkStrings visits every string reachable from v through maps and slices.
// Map keys are visited in sorted order to keep extraction deterministic.
func walkStrings(v any, visit func(string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case map[string]any:
		for _, k := range sortedKeys(t) {
			walkStrings(t[k], visit)
		}
	case []any:
		for _, e := range t {
			walkStrings(e, visit)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
