// Package registry maps loader node types to the artifact kind they load.
// The table is data; adding a loader is a table edit, not new code.
package registry

import (
	"github.com/standardbeagle/mdr/internal/types"
)

// Entry describes what a loader node type loads and where it belongs.
type Entry struct {
	Kind       types.Kind
	Subdir     string
	Extensions []string
}

// standardLoaders are the stock loader node types whose first matching widget
// names the artifact.
var standardLoaders = map[string]Entry{
	"CheckpointLoaderSimple": {
		Kind:       types.KindCheckpoint,
		Subdir:     "checkpoints",
		Extensions: []string{".safetensors", ".ckpt", ".pt"},
	},
	"LoraLoader": {
		Kind:       types.KindLora,
		Subdir:     "loras",
		Extensions: []string{".safetensors", ".pt"},
	},
	"VAELoader": {
		Kind:       types.KindVAE,
		Subdir:     "vae",
		Extensions: []string{".safetensors", ".pt", ".ckpt"},
	},
	"ControlNetLoader": {
		Kind:       types.KindControlNet,
		Subdir:     "controlnet",
		Extensions: []string{".safetensors", ".pth", ".pt"},
	},
	"CLIPLoader": {
		Kind:       types.KindCLIP,
		Subdir:     "clip",
		Extensions: []string{".safetensors", ".bin", ".pt"},
	},
	"UpscaleModelLoader": {
		Kind:       types.KindUpscale,
		Subdir:     "upscale_models",
		Extensions: []string{".pth", ".pt", ".safetensors"},
	},
	"CLIPVisionLoader": {
		Kind:       types.KindCLIPVision,
		Subdir:     "clip_vision",
		Extensions: []string{".safetensors", ".bin"},
	},
	"HypernetworkLoader": {
		Kind:       types.KindHypernetwork,
		Subdir:     "hypernetworks",
		Extensions: []string{".safetensors", ".pt", ".ckpt"},
	},
}

// fluxLoaders cover UNet, dual-CLIP and GGUF loader variants whose widget
// ordering differs from the stock loaders; every matching widget is taken,
// not just the first.
var fluxLoaders = map[string]Entry{
	"UNETLoader": {
		Kind:       types.KindUNet,
		Subdir:     "unet",
		Extensions: []string{".safetensors", ".pt", ".gguf"},
	},
	"UnetLoaderGGUF": {
		Kind:       types.KindUNet,
		Subdir:     "unet",
		Extensions: []string{".gguf"},
	},
	"LoaderGGUF": {
		Kind:       types.KindUNet,
		Subdir:     "unet",
		Extensions: []string{".gguf"},
	},
	"DualCLIPLoader": {
		Kind:       types.KindCLIP,
		Subdir:     "clip",
		Extensions: []string{".safetensors", ".gguf"},
	},
	"DualCLIPLoaderGGUF": {
		Kind:       types.KindCLIP,
		Subdir:     "clip",
		Extensions: []string{".safetensors", ".gguf"},
	},
	"ClipLoaderGGUF": {
		Kind:       types.KindTextEncoder,
		Subdir:     "text_encoders",
		Extensions: []string{".safetensors", ".gguf"},
	},
}

// customLoaders is the allow-list of community loader node types whose
// widgets carry lora filenames inside nested objects.
var customLoaders = map[string]Entry{
	"Power Lora Loader (rgthree)": {
		Kind:       types.KindLora,
		Subdir:     "loras",
		Extensions: []string{".safetensors", ".pt"},
	},
}

// Lookup returns the stock-loader entry for a node type.
func Lookup(nodeType string) (Entry, bool) {
	e, ok := standardLoaders[nodeType]
	return e, ok
}

// LookupFlux returns the flux-family loader entry for a node type.
func LookupFlux(nodeType string) (Entry, bool) {
	e, ok := fluxLoaders[nodeType]
	return e, ok
}

// LookupCustom returns the community-loader entry for a node type.
func LookupCustom(nodeType string) (Entry, bool) {
	e, ok := customLoaders[nodeType]
	return e, ok
}

// InputKinds maps named inputs of legacy-format workflow nodes to kinds.
var InputKinds = map[string]types.Kind{
	"ckpt_name":        types.KindCheckpoint,
	"lora_name":        types.KindLora,
	"vae_name":         types.KindVAE,
	"control_net_name": types.KindControlNet,
	"clip_name":        types.KindCLIP,
	"unet_name":        types.KindUNet,
	"model_name":       types.KindCheckpoint,
}

// SubdirKinds maps canonical subdirectory names back to kinds, used when a
// path inside a node carries its own directory hint.
var SubdirKinds = map[string]types.Kind{
	"checkpoints":    types.KindCheckpoint,
	"loras":          types.KindLora,
	"vae":            types.KindVAE,
	"clip":           types.KindCLIP,
	"unet":           types.KindUNet,
	"controlnet":     types.KindControlNet,
	"upscale_models": types.KindUpscale,
	"embeddings":     types.KindEmbeddings,
	"clip_vision":    types.KindCLIPVision,
	"text_encoders":  types.KindTextEncoder,
	"hypernetworks":  types.KindHypernetwork,
	"reactor":        types.KindReactor,
}
