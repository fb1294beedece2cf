package cli

import (
	"neuroforge/internal/config"
	"neuroforge/internal/sandbox"
)

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	configLoad         = config.Load
	configWriteDefault = config.WriteDefault
	dockerAvailable    = func() error { return sandbox.NewDockerCLI().Available() }
)
