// Package keywords normalizes model filenames into keyword sets for fuzzy
// matching. Extraction is pure and deterministic: the same filename always
// yields the same ordered token list.
package keywords

import (
	"strings"
	"unicode"
)

// ModelExtensions is the closed set of recognized model file extensions.
var ModelExtensions = []string{
	".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".onnx", ".gguf",
}

// stopTokens are version/quantization markers treated as noise. Compound
// forms (q4_k_m, q8_0) are matched before underscore splitting so their
// digit tails do not leak into the keyword set.
var stopTokens = map[string]struct{}{
	"q4": {}, "q5": {}, "q6": {}, "q8": {},
	"q4_0": {}, "q4_1": {}, "q4_k": {}, "q4_k_m": {}, "q4_k_s": {},
	"q5_0": {}, "q5_1": {}, "q5_k": {}, "q5_k_m": {}, "q5_k_s": {},
	"q6_k": {}, "q8_0": {},
	"gguf": {}, "ggml": {},
	"fp16": {}, "fp32": {}, "bf16": {}, "int8": {}, "f16": {}, "f32": {},
	"pruned": {}, "ema": {}, "emaonly": {}, "vae": {}, "novae": {},
	"inpainting": {}, "refiner": {}, "base": {}, "full": {}, "lite": {},
	"v1": {}, "v2": {}, "v3": {}, "v4": {}, "v5": {},
	"v1.0": {}, "v1.1": {}, "v1.5": {}, "v2.0": {}, "v2.1": {}, "v2.5": {}, "v3.0": {},
	"final": {}, "latest": {}, "alpha": {}, "beta": {}, "rc": {}, "release": {},
	"512": {}, "768": {}, "1024": {}, "2048": {},
	"xl": {}, "xxl": {}, "small": {}, "medium": {}, "large": {},
}

// preserveTokens are model-family markers that always survive filtering and
// are never segmented further.
var preserveTokens = map[string]struct{}{
	"sdxl": {}, "sd15": {}, "sd21": {}, "flux": {}, "animatediff": {},
	"controlnet": {}, "openpose": {}, "canny": {}, "depth": {},
	"normal": {}, "semantic": {},
}

// HasModelExtension reports whether name ends in a recognized extension.
func HasModelExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range ModelExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// StripExtension removes a recognized extension from name; unrecognized
// suffixes are left alone.
func StripExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range ModelExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// Extract converts a filename into an ordered, duplicate-free list of
// lowercase keywords. Separators, camelCase boundaries and letter-digit
// transitions all split; stop-listed version/quant tokens are dropped and
// preserve-listed family markers survive whole.
func Extract(filename string) []string {
	base := StripExtension(filename)

	var out []string
	seen := make(map[string]struct{})
	emit := func(tok string) {
		if tok == "" {
			return
		}
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	// Coarse split keeps underscores and dots together so compound stop
	// tokens like q4_k_s and v1.0 match before finer splitting.
	for _, coarse := range strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == ' '
	}) {
		lower := strings.ToLower(coarse)
		if _, stop := stopTokens[lower]; stop {
			continue
		}
		if _, keep := preserveTokens[lower]; keep {
			emit(lower)
			continue
		}
		for _, part := range strings.FieldsFunc(coarse, func(r rune) bool {
			return r == '_' || r == '.'
		}) {
			lower := strings.ToLower(part)
			if _, stop := stopTokens[lower]; stop {
				continue
			}
			if _, keep := preserveTokens[lower]; keep {
				emit(lower)
				continue
			}
			for _, seg := range segment(part) {
				if _, stop := stopTokens[seg]; stop {
					continue
				}
				if _, keep := preserveTokens[seg]; keep {
					emit(seg)
					continue
				}
				if len(seg) >= 2 || isDigits(seg) {
					emit(seg)
				}
			}
		}
	}
	return out
}

// segment splits a separator-free token at lowercase-to-uppercase and
// letter-digit boundaries and lowercases the pieces.
func segment(tok string) []string {
	var segs []string
	runes := []rune(tok)
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		split := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			split = true
		case unicode.IsLetter(prev) && unicode.IsDigit(cur):
			split = true
		case unicode.IsDigit(prev) && unicode.IsLetter(cur):
			split = true
		}
		if split {
			segs = append(segs, strings.ToLower(string(runes[start:i])))
			start = i
		}
	}
	segs = append(segs, strings.ToLower(string(runes[start:])))
	return segs
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Similarity is the Jaccard index over two keyword lists. Empty inputs
// score zero.
func Similarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, k := range a {
		setA[k] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, k := range b {
		setB[k] = struct{}{}
	}
	inter := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
