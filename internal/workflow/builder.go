package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
)

// Builder renders a GenerationRequest into the execution graph one backend
// kind consumes. Building is pure: the same request and backend kind always
// produce a structurally identical graph (the only free variable is the
// explicit seed carried in the request).
type Builder struct {
	families []Family
}

func NewBuilder() *Builder {
	return &Builder{families: defaultFamilies()}
}

// Resolve maps a model name to its family via longest-keyword match and
// checks the requested generation kind against the family's.
func (b *Builder) Resolve(modelName string, kind model.GenerationKind) (*Family, error) {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name == "" {
		return nil, fmt.Errorf("%w: empty model name", domain.ErrUnsupportedModel)
	}

	var best *Family
	bestLen := 0
	for i := range b.families {
		f := &b.families[i]
		for _, kw := range f.Keywords {
			if !strings.Contains(name, kw) {
				continue
			}
			if len(kw) > bestLen || (len(kw) == bestLen && best != nil && f.Name < best.Name) {
				best = f
				bestLen = len(kw)
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, modelName)
	}
	if best.Kind != kind {
		return nil, fmt.Errorf("%w: %q is a %s model, requested %s", domain.ErrUnsupportedModel, modelName, best.Kind, kind)
	}
	return best, nil
}

// Validate resolves the family and checks the merged parameters without
// building a graph. Submit uses it to reject bad requests before a job is
// ever created.
func (b *Builder) Validate(req *model.GenerationRequest) error {
	fam, err := b.Resolve(req.ModelName, req.Kind)
	if err != nil {
		return err
	}
	_, err = b.resolveParams(fam, req)
	return err
}

func (b *Builder) resolveParams(fam *Family, req *model.GenerationRequest) (model.Params, error) {
	p := mergeParams(fam.Defaults, req.Params)
	if p.Width <= 0 || p.Height <= 0 {
		return p, fmt.Errorf("%w: dimensions %dx%d", domain.ErrInvalidParameter, p.Width, p.Height)
	}
	if p.Steps <= 0 {
		return p, fmt.Errorf("%w: steps must be positive", domain.ErrInvalidParameter)
	}
	if fam.Kind == model.GenerationVideo && p.FrameCount <= 0 {
		return p, fmt.Errorf("%w: frame_count must be positive for video", domain.ErrInvalidParameter)
	}
	if fam.RequiresVAE && p.VAEName == "" {
		return p, fmt.Errorf("%w: family %s requires vae_name", domain.ErrInvalidParameter, fam.Name)
	}
	return p, nil
}

// Build renders the request for one backend kind: a node graph for standard
// backends, a flat payload for serverless ones.
func (b *Builder) Build(req *model.GenerationRequest, kind model.BackendKind) (*model.ExecutionGraph, error) {
	fam, err := b.Resolve(req.ModelName, req.Kind)
	if err != nil {
		return nil, err
	}
	p, err := b.resolveParams(fam, req)
	if err != nil {
		return nil, err
	}

	g := &model.ExecutionGraph{BackendKind: kind, Family: fam.Name}
	switch kind {
	case model.BackendKindStandard:
		g.Nodes = buildNodeGraph(fam, req, p)
	case model.BackendKindServerless:
		g.Payload = buildFlatPayload(fam, req, p)
	default:
		return nil, fmt.Errorf("%w: backend kind %q", domain.ErrInvalidArgument, kind)
	}
	return g, nil
}

// buildNodeGraph emits the node-graph wire shape. Node ids are fixed strings
// so two builds of the same request compare equal.
func buildNodeGraph(fam *Family, req *model.GenerationRequest, p model.Params) map[string]model.GraphNode {
	nodes := map[string]model.GraphNode{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
			"ckpt_name": req.ModelName,
		}},
		"2": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": req.Prompt,
			"clip": []any{"1", 1},
		}},
		"3": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": req.NegativePrompt,
			"clip": []any{"1", 1},
		}},
	}

	modelRef := []any{"1", 0}
	nextLoRA := 20
	for _, l := range p.LoRAs {
		id := strconv.Itoa(nextLoRA)
		nodes[id] = model.GraphNode{ClassType: "LoraLoaderModelOnly", Inputs: map[string]any{
			"lora_name":      l.Name,
			"strength_model": l.Strength,
			"model":          modelRef,
		}}
		modelRef = []any{id, 0}
		nextLoRA++
	}

	vaeRef := []any{"1", 2}
	if p.VAEName != "" {
		nodes["8"] = model.GraphNode{ClassType: "VAELoader", Inputs: map[string]any{
			"vae_name": p.VAEName,
		}}
		vaeRef = []any{"8", 0}
	}

	if fam.Kind == model.GenerationVideo {
		nodes["4"] = model.GraphNode{ClassType: "EmptyHunyuanLatentVideo", Inputs: map[string]any{
			"width":      p.Width,
			"height":     p.Height,
			"length":     p.FrameCount,
			"batch_size": 1,
		}}
	} else {
		nodes["4"] = model.GraphNode{ClassType: "EmptyLatentImage", Inputs: map[string]any{
			"width":      p.Width,
			"height":     p.Height,
			"batch_size": 1,
		}}
	}

	nodes["5"] = model.GraphNode{ClassType: "KSampler", Inputs: map[string]any{
		"model":        modelRef,
		"positive":     []any{"2", 0},
		"negative":     []any{"3", 0},
		"latent_image": []any{"4", 0},
		"seed":         p.Seed,
		"steps":        p.Steps,
		"cfg":          p.CFGScale,
		"sampler_name": p.Sampler,
		"scheduler":    p.Scheduler,
		"denoise":      p.Denoise,
	}}
	nodes["6"] = model.GraphNode{ClassType: "VAEDecode", Inputs: map[string]any{
		"samples": []any{"5", 0},
		"vae":     vaeRef,
	}}

	if fam.Kind == model.GenerationVideo {
		nodes["7"] = model.GraphNode{ClassType: "SaveAnimatedWEBP", Inputs: map[string]any{
			"images":          []any{"6", 0},
			"fps":             p.FPS,
			"filename_prefix": "storyboard/" + req.ClipID,
		}}
	} else {
		nodes["7"] = model.GraphNode{ClassType: "SaveImage", Inputs: map[string]any{
			"images":          []any{"6", 0},
			"filename_prefix": "storyboard/" + req.ClipID,
		}}
	}
	return nodes
}

// buildFlatPayload emits the serverless input shape.
func buildFlatPayload(fam *Family, req *model.GenerationRequest, p model.Params) map[string]any {
	in := map[string]any{
		"model":           req.ModelName,
		"family":          fam.Name,
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"width":           p.Width,
		"height":          p.Height,
		"steps":           p.Steps,
		"cfg_scale":       p.CFGScale,
		"sampler":         p.Sampler,
		"scheduler":       p.Scheduler,
		"seed":            p.Seed,
		"denoise":         p.Denoise,
	}
	if len(p.LoRAs) > 0 {
		loras := make([]map[string]any, 0, len(p.LoRAs))
		for _, l := range p.LoRAs {
			loras = append(loras, map[string]any{"name": l.Name, "strength": l.Strength})
		}
		in["loras"] = loras
	}
	if fam.Kind == model.GenerationVideo {
		in["frame_count"] = p.FrameCount
		in["fps"] = p.FPS
	}
	if p.VAEName != "" {
		in["vae"] = p.VAEName
	}
	return map[string]any{"input": in}
}
