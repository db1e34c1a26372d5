package engine

import (
	"path/filepath"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
	"github.com/spaghettifunk/raypath/engine/renderer/vulkan"
)

// Compiled shader binaries, relative to render.shader_dir.
const (
	ComputeShaderFile  = "compute_pass.comp.spv"
	VertexShaderFile   = "fullscreen_tri.vert.spv"
	FragmentShaderFile = "tex_sample.frag.spv"
)

// Watcher tags.
const (
	watchConfig  = "config"
	watchShaders = "shaders"
)

func backendConfig(cfg *core.Config) vulkan.Config {
	return vulkan.Config{
		AppName: cfg.Application.Name,
		Debug:   cfg.Render.Validation,
	}
}

func orchestratorConfig(cfg *core.Config) frame.Config {
	dir := cfg.Render.ShaderDir
	return frame.Config{
		FramesInFlight: cfg.Render.FramesInFlight,
		OutputExtent:   frame.Extent{Width: cfg.Render.OutputWidth, Height: cfg.Render.OutputHeight},
		WorkGroupSize:  cfg.Render.WorkGroupSize,
		FenceTimeout:   cfg.Render.FenceTimeout.Duration,
		ComputeShader:  filepath.Join(dir, ComputeShaderFile),
		VertexShader:   filepath.Join(dir, VertexShaderFile),
		FragmentShader: filepath.Join(dir, FragmentShaderFile),
	}
}

// outputAspect is the aspect ratio of the ray traced image, which the camera uses
// regardless of the window size.
func outputAspect(cfg *core.Config) float32 {
	return float32(cfg.Render.OutputWidth) / float32(cfg.Render.OutputHeight)
}
