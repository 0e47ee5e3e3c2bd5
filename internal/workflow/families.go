package workflow

import (
	"storyboard-ai-generation/internal/domain/model"
)

// Family is the declarative template for one model family: the keywords that
// resolve a model name to it, the parameter defaults it applies, and whether
// it needs a companion VAE/encoder reference (two-stage video models do).
type Family struct {
	Name        string
	Kind        model.GenerationKind
	Keywords    []string
	Defaults    model.Params
	RequiresVAE bool
}

// defaultFamilies is the registry table. Resolution is a longest-keyword
// substring match against the lowercased model name; ties fall to the
// lexicographically smaller family name so resolution is deterministic.
func defaultFamilies() []Family {
	return []Family{
		{
			Name:     "sd15",
			Kind:     model.GenerationImage,
			Keywords: []string{"sd15", "sd-1.5", "sd_1.5", "v1-5", "dreamshaper", "realistic-vision"},
			Defaults: model.Params{
				Steps:     25,
				CFGScale:  7.0,
				Width:     512,
				Height:    512,
				Sampler:   "euler",
				Scheduler: "normal",
				Seed:      -1,
				Denoise:   1.0,
			},
		},
		{
			Name:     "sdxl",
			Kind:     model.GenerationImage,
			Keywords: []string{"sdxl", "xl-base", "juggernaut", "playground"},
			Defaults: model.Params{
				Steps:     30,
				CFGScale:  6.5,
				Width:     1024,
				Height:    1024,
				Sampler:   "dpmpp_2m",
				Scheduler: "karras",
				Seed:      -1,
				Denoise:   1.0,
			},
		},
		{
			Name:     "flux",
			Kind:     model.GenerationImage,
			Keywords: []string{"flux"},
			Defaults: model.Params{
				Steps:     20,
				CFGScale:  1.0,
				Width:     1024,
				Height:    1024,
				Sampler:   "euler",
				Scheduler: "simple",
				Seed:      -1,
				Denoise:   1.0,
			},
		},
		{
			Name:     "svd",
			Kind:     model.GenerationVideo,
			Keywords: []string{"svd", "stable-video"},
			Defaults: model.Params{
				Steps:      25,
				CFGScale:   2.5,
				Width:      1024,
				Height:     576,
				Sampler:    "euler",
				Scheduler:  "karras",
				Seed:       -1,
				Denoise:    1.0,
				FrameCount: 25,
				FPS:        8,
			},
		},
		{
			Name:     "wan",
			Kind:     model.GenerationVideo,
			Keywords: []string{"wan", "wan2", "wan2.1"},
			Defaults: model.Params{
				Steps:      30,
				CFGScale:   6.0,
				Width:      832,
				Height:     480,
				Sampler:    "uni_pc",
				Scheduler:  "simple",
				Seed:       -1,
				Denoise:    1.0,
				FrameCount: 81,
				FPS:        16,
			},
			// Wan checkpoints ship without a baked-in VAE; the request must
			// name the companion encoder to load.
			RequiresVAE: true,
		},
	}
}

// mergeParams overlays the request's set fields onto the family defaults.
// Zero values in req mean "unset" and keep the default; Seed uses 0 as unset
// because -1 is the conventional "randomize remotely" value.
func mergeParams(def, req model.Params) model.Params {
	out := def
	if req.Steps > 0 {
		out.Steps = req.Steps
	}
	if req.CFGScale > 0 {
		out.CFGScale = req.CFGScale
	}
	if req.Width > 0 {
		out.Width = req.Width
	}
	if req.Height > 0 {
		out.Height = req.Height
	}
	if req.Sampler != "" {
		out.Sampler = req.Sampler
	}
	if req.Scheduler != "" {
		out.Scheduler = req.Scheduler
	}
	if req.Seed != 0 {
		out.Seed = req.Seed
	}
	if req.Denoise > 0 {
		out.Denoise = req.Denoise
	}
	if len(req.LoRAs) > 0 {
		out.LoRAs = req.LoRAs
	}
	if req.FrameCount > 0 {
		out.FrameCount = req.FrameCount
	}
	if req.FPS > 0 {
		out.FPS = req.FPS
	}
	if req.VAEName != "" {
		out.VAEName = req.VAEName
	}
	return out
}
