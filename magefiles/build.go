//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// shaderStages are compiled to <name>.spv next to their source.
var shaderStages = []string{
	"shaders/fullscreen.vert",
	"shaders/fullscreen.frag",
}

// Compiles the fullscreen shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the inflight binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "inflight"), "."), withStream())
	return err
}

func buildShaders() error {
	for _, src := range shaderStages {
		if _, err := executeCmd("glslc", withArgs(src, "-o", src+".spv"), withStream()); err != nil {
			return err
		}
	}
	return nil
}
