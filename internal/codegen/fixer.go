package codegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"neuroforge/internal/domain"
)

// Fixer repairs source code given the runtime error it produced.
type Fixer struct {
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewFixer returns a Fixer backed by provider.
func NewFixer(provider domain.LLMProvider, logger *slog.Logger) *Fixer {
	return &Fixer{provider: provider, logger: logger}
}

// Fix implements domain.CodeFixer.
func (f *Fixer) Fix(ctx context.Context, code, errText string, language domain.Language, primingContext string) (string, error) {
	if code == "" || errText == "" {
		return "", fmt.Errorf("codegen: code and error required")
	}

	lines := []string{
		fmt.Sprintf("You are an assistant that fixes %s programs.", language),
		"The user will provide the original script and the runtime error. Provide only corrected, runnable code with minimal changes.",
		"Constraints:",
		"- Do not add network or filesystem calls unless necessary.",
		"- Avoid use of dangerous system calls.",
		"",
		"Original code:",
		code,
		"",
		"Runtime error / traceback:",
		errText,
	}
	if language == domain.LangJava {
		lines = append(lines, "Ensure the public class is named Main (public class Main { ... }).")
	}
	if primingContext != "" {
		lines = append(lines, "\nContext:\n"+primingContext)
	}

	raw, err := f.provider.Generate(ctx, strings.Join(lines, "\n"))
	if err != nil {
		return "", fmt.Errorf("codegen: fix: %w", err)
	}
	fixed := Sanitize(raw)
	if fixed == "" {
		return "", fmt.Errorf("codegen: model returned empty fix")
	}
	f.logger.Info("code repaired", "language", language, "bytes", len(fixed))
	return fixed, nil
}

var _ domain.CodeFixer = (*Fixer)(nil)
