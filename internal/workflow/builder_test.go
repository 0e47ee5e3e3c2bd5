package workflow

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
)

func imageRequest(modelName string) *model.GenerationRequest {
	return &model.GenerationRequest{
		ClipID:    "clip-1",
		Kind:      model.GenerationImage,
		ModelName: modelName,
		Prompt:    "a quiet harbor at dawn",
	}
}

func TestResolveFamilies(t *testing.T) {
	b := NewBuilder()

	cases := []struct {
		modelName string
		kind      model.GenerationKind
		family    string
	}{
		{"dreamshaper_8.safetensors", model.GenerationImage, "sd15"},
		{"sd_xl-base_1.0.safetensors", model.GenerationImage, "sdxl"},
		{"juggernautXL_v9.safetensors", model.GenerationImage, "sdxl"},
		{"flux1-dev-fp8.safetensors", model.GenerationImage, "flux"},
		{"svd_xt_1_1.safetensors", model.GenerationVideo, "svd"},
		{"wan2.1_t2v_1.3B.safetensors", model.GenerationVideo, "wan"},
	}
	for _, tc := range cases {
		fam, err := b.Resolve(tc.modelName, tc.kind)
		require.NoError(t, err, tc.modelName)
		assert.Equal(t, tc.family, fam.Name, tc.modelName)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	b := NewBuilder()
	_, err := b.Resolve("totally-unknown-model.ckpt", model.GenerationImage)
	assert.ErrorIs(t, err, domain.ErrUnsupportedModel)
}

func TestResolveKindMismatch(t *testing.T) {
	b := NewBuilder()
	// svd is a video family; asking for an image from it is unsupported.
	_, err := b.Resolve("svd_xt_1_1.safetensors", model.GenerationImage)
	assert.ErrorIs(t, err, domain.ErrUnsupportedModel)
}

func TestValidateRejectsMissingVAE(t *testing.T) {
	b := NewBuilder()
	req := &model.GenerationRequest{
		ClipID:    "clip-1",
		Kind:      model.GenerationVideo,
		ModelName: "wan2.1_t2v_1.3B.safetensors",
		Prompt:    "waves rolling in",
	}
	err := b.Validate(req)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	req.Params.VAEName = "wan_2.1_vae.safetensors"
	assert.NoError(t, b.Validate(req))
}

func TestValidateRejectsBadDimensions(t *testing.T) {
	b := NewBuilder()
	req := imageRequest("dreamshaper_8.safetensors")
	req.Params.Width = -100
	err := b.Validate(req)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestBuildAppliesFamilyDefaults(t *testing.T) {
	b := NewBuilder()
	g, err := b.Build(imageRequest("sd_xl-base_1.0.safetensors"), model.BackendKindStandard)
	require.NoError(t, err)
	require.NotNil(t, g.Nodes)

	sampler := g.Nodes["5"]
	assert.Equal(t, "KSampler", sampler.ClassType)
	assert.Equal(t, 30, sampler.Inputs["steps"])
	assert.Equal(t, 6.5, sampler.Inputs["cfg"])
	assert.Equal(t, "dpmpp_2m", sampler.Inputs["sampler_name"])

	latent := g.Nodes["4"]
	assert.Equal(t, "EmptyLatentImage", latent.ClassType)
	assert.Equal(t, 1024, latent.Inputs["width"])
}

func TestBuildRequestOverridesDefaults(t *testing.T) {
	b := NewBuilder()
	req := imageRequest("dreamshaper_8.safetensors")
	req.Params.Steps = 40
	req.Params.Width = 768
	req.Params.Seed = 1234

	g, err := b.Build(req, model.BackendKindStandard)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Nodes["5"].Inputs["steps"])
	assert.Equal(t, int64(1234), g.Nodes["5"].Inputs["seed"])
	assert.Equal(t, 768, g.Nodes["4"].Inputs["width"])
	// Unset fields keep the family defaults.
	assert.Equal(t, 7.0, g.Nodes["5"].Inputs["cfg"])
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder()
	req := imageRequest("flux1-dev-fp8.safetensors")
	req.Params.Seed = 42
	req.Params.LoRAs = []model.LoRARef{{Name: "detail-tweaker", Strength: 0.8}}

	g1, err := b.Build(req, model.BackendKindStandard)
	require.NoError(t, err)
	g2, err := b.Build(req, model.BackendKindStandard)
	require.NoError(t, err)
	if !reflect.DeepEqual(g1, g2) {
		t.Fatalf("two builds of the same request differ")
	}
}

func TestBuildLoRAChain(t *testing.T) {
	b := NewBuilder()
	req := imageRequest("dreamshaper_8.safetensors")
	req.Params.LoRAs = []model.LoRARef{
		{Name: "first", Strength: 0.7},
		{Name: "second", Strength: 0.5},
	}
	g, err := b.Build(req, model.BackendKindStandard)
	require.NoError(t, err)

	assert.Equal(t, "LoraLoaderModelOnly", g.Nodes["20"].ClassType)
	assert.Equal(t, []any{"1", 0}, g.Nodes["20"].Inputs["model"])
	assert.Equal(t, []any{"20", 0}, g.Nodes["21"].Inputs["model"])
	// The sampler consumes the end of the chain.
	assert.Equal(t, []any{"21", 0}, g.Nodes["5"].Inputs["model"])
}

func TestBuildServerlessPayload(t *testing.T) {
	b := NewBuilder()
	req := &model.GenerationRequest{
		ClipID:    "clip-9",
		Kind:      model.GenerationVideo,
		ModelName: "svd_xt_1_1.safetensors",
		Prompt:    "timelapse of clouds",
	}
	g, err := b.Build(req, model.BackendKindServerless)
	require.NoError(t, err)
	require.Nil(t, g.Nodes)

	in, ok := g.Payload["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "svd_xt_1_1.safetensors", in["model"])
	assert.Equal(t, 25, in["frame_count"])
	assert.Equal(t, 8, in["fps"])
}
