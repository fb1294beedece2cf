package codegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"neuroforge/internal/domain"
)

// langHints steer generation toward code that actually runs under the
// sandbox's per-language profile.
var langHints = map[domain.Language]string{
	domain.LangPython:     "Python 3.10+ script (run with `python file.py`)",
	domain.LangJavaScript: "JavaScript for Node.js (use console.log)",
	domain.LangC:          "C program (compile with gcc, standard C99)",
	domain.LangCPP:        "C++ program (compile with g++, standard C++17)",
	domain.LangJava:       "Java program (public class Main, compile with javac Main.java)",
}

// Writer turns task descriptions into runnable source code.
type Writer struct {
	provider domain.LLMProvider
	logger   *slog.Logger
}

// NewWriter returns a Writer backed by provider.
func NewWriter(provider domain.LLMProvider, logger *slog.Logger) *Writer {
	return &Writer{provider: provider, logger: logger}
}

// Write implements domain.CodeWriter. When language is empty the intended
// language is detected from the task text first.
func (w *Writer) Write(ctx context.Context, task string, language domain.Language, primingContext string) (string, domain.Language, error) {
	if strings.TrimSpace(task) == "" {
		return "", "", fmt.Errorf("codegen: task must not be empty")
	}

	if !domain.ValidLanguage(language) {
		language = w.detectLanguage(ctx, task)
	}

	prompt := fmt.Sprintf(
		"Write a %s program to %s.\nRules:\n"+
			"- Return only executable %s code (no explanations).\n"+
			"- Must print or output results to STDOUT.\n"+
			"- %s",
		language, task, language, langHints[language])
	if primingContext != "" {
		prompt += "\nContext:\n" + primingContext
	}

	raw, err := w.provider.Generate(ctx, prompt)
	if err != nil {
		return "", "", fmt.Errorf("codegen: generate: %w", err)
	}
	code := Sanitize(raw)
	if code == "" {
		return "", "", fmt.Errorf("codegen: model returned empty code")
	}
	w.logger.Info("code generated", "language", language, "bytes", len(code))
	return code, language, nil
}

// detectLanguage asks the model which supported language the task implies.
// Any uncertainty falls back to python.
func (w *Writer) detectLanguage(ctx context.Context, task string) domain.Language {
	prompt := "You are a language detection assistant.\n\n" +
		"The user will describe a coding task.\n" +
		"Your job is to determine the programming language they are referring to.\n\n" +
		"Supported options: Python, JavaScript, C, C++, Java.\n\n" +
		"Respond with only the language name in lowercase " +
		"(e.g., \"python\", \"c\", \"cpp\", \"java\", \"javascript\").\n\n" +
		"User task:\n" + task

	resp, err := w.provider.Generate(ctx, prompt)
	if err != nil {
		w.logger.Warn("language detection failed, defaulting to python", "error", err)
		return domain.LangPython
	}
	return parseLanguage(resp)
}

// parseLanguage maps a free-form model answer onto a supported language.
// Longer names are checked first so "javascript" is not caught by "java", and
// "c" last so it cannot shadow anything.
func parseLanguage(resp string) domain.Language {
	text := strings.ToLower(strings.TrimSpace(resp))
	for _, lang := range []domain.Language{
		domain.LangJavaScript, domain.LangPython, domain.LangJava, domain.LangCPP,
	} {
		if strings.Contains(text, string(lang)) {
			return lang
		}
	}
	if strings.Contains(text, "c++") {
		return domain.LangCPP
	}
	if text == "c" {
		return domain.LangC
	}
	return domain.LangPython
}

var _ domain.CodeWriter = (*Writer)(nil)
