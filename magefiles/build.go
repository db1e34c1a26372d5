//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

const (
	shaderSrcDir = "assets/shaders"
	shaderOutDir = "assets/shaders/bin"
)

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders into SPIR-V with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and then builds the binary.
func (Build) All() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Building raypath...")
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/raypath", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	if err := requireTool("glslc", "install the Vulkan SDK or shaderc"); err != nil {
		return err
	}
	sources, err := shaderSources(shaderSrcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(shaderOutDir, 0o755); err != nil {
		return err
	}
	for _, src := range sources {
		out := filepath.Join(shaderOutDir, filepath.Base(src)+".spv")
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// shaderSources lists the .comp, .vert and .frag files directly inside dir.
func shaderSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".comp", ".vert", ".frag":
			sources = append(sources, filepath.Join(dir, e.Name()))
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no shader sources in %s", dir)
	}
	return sources, nil
}
