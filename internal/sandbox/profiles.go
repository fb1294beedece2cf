// Package sandbox executes untrusted programs inside disposable Docker
// containers with resource caps, a throwaway workspace, and artifact capture.
package sandbox

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"neuroforge/internal/domain"
)

// Profile declares how a language's program is laid out and executed inside
// the container.
type Profile struct {
	Filename             string // source file written into the workspace root
	ImageEnv             string // env var that overrides the image
	DefaultImage         string
	Preamble             string // shell snippet run before Execute; empty = none
	Execute              string // shell snippet that launches the program
	SupportsRequirements bool   // whether requirements.txt is honored
}

// pipPreamble installs requirements when a nonempty requirements.txt exists.
const pipPreamble = "if [ -f requirements.txt ] && [ -s requirements.txt ]; then pip install --no-cache-dir -r requirements.txt; fi"

// profiles is the canonical per-language table.
var profiles = map[domain.Language]Profile{
	domain.LangPython: {
		Filename:             "main.py",
		ImageEnv:             "SANDBOX_IMAGE_PYTHON",
		DefaultImage:         "python:3.10-slim",
		Preamble:             pipPreamble,
		Execute:              "python /workspace/main.py",
		SupportsRequirements: true,
	},
	domain.LangJavaScript: {
		Filename:     "main.js",
		ImageEnv:     "SANDBOX_IMAGE_NODE",
		DefaultImage: "node:20-bullseye",
		Execute:      "node /workspace/main.js",
	},
	domain.LangC: {
		Filename:     "main.c",
		ImageEnv:     "SANDBOX_IMAGE_C",
		DefaultImage: "gcc:13",
		Execute:      "gcc main.c -std=c11 -O2 -o main && ./main",
	},
	domain.LangCPP: {
		Filename:     "main.cpp",
		ImageEnv:     "SANDBOX_IMAGE_CPP",
		DefaultImage: "gcc:13",
		Execute:      "g++ main.cpp -std=c++17 -O2 -o main && ./main",
	},
	domain.LangJava: {
		Filename:     "Main.java",
		ImageEnv:     "SANDBOX_IMAGE_JAVA",
		DefaultImage: "openjdk:21-slim",
		Execute:      "javac Main.java && java Main",
	},
}

// ProfileFor returns the profile for lang, or an error for unknown languages.
func ProfileFor(lang domain.Language) (Profile, error) {
	p, ok := profiles[lang]
	if !ok {
		return Profile{}, fmt.Errorf("sandbox: unsupported language %q", lang)
	}
	return p, nil
}

// ResolveImage picks the container image for a profile: config override first,
// then the profile's environment variable, then the built-in default.
func ResolveImage(p Profile, lang domain.Language, overrides map[string]string) string {
	if img, ok := overrides[string(lang)]; ok && img != "" {
		return img
	}
	if img := os.Getenv(p.ImageEnv); img != "" {
		return img
	}
	return p.DefaultImage
}

// ShellCmd assembles the command run inside the container. Strict shell
// options come first so install or compile failures abort the run.
func (p Profile) ShellCmd() string {
	cmd := "set -euo pipefail"
	if p.Preamble != "" {
		cmd += " && " + p.Preamble
	}
	return cmd + " && " + p.Execute
}

// profileOverride is one entry of an operator-supplied profiles.yaml.
type profileOverride struct {
	Image    string `yaml:"image"`
	Preamble string `yaml:"preamble"`
	Execute  string `yaml:"execute"`
}

// LoadProfileOverrides reads a YAML file mapping language names to overrides
// and merges nonempty fields into the canonical table. Missing file is not an
// error; unknown languages are.
func LoadProfileOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sandbox: read profiles: %w", err)
	}
	var raw map[string]profileOverride
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sandbox: parse profiles: %w", err)
	}
	for name, ov := range raw {
		lang := domain.Language(name)
		p, ok := profiles[lang]
		if !ok {
			return fmt.Errorf("sandbox: profiles override for unknown language %q", name)
		}
		if ov.Image != "" {
			p.DefaultImage = ov.Image
		}
		if ov.Preamble != "" {
			p.Preamble = ov.Preamble
		}
		if ov.Execute != "" {
			p.Execute = ov.Execute
		}
		profiles[lang] = p
	}
	return nil
}
