package codegen

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"neuroforge/internal/domain"
)

// scriptedProvider returns canned responses in call order and records prompts.
type scriptedProvider struct {
	responses []string
	err       error
	prompts   []string
}

func (p *scriptedProvider) Generate(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	i := len(p.prompts) - 1
	if i >= len(p.responses) {
		return "", errors.New("scriptedProvider: out of responses")
	}
	return p.responses[i], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// =============================================================================
// Sanitize
// =============================================================================

func TestSanitize_ShouldExtractFencedBlock(t *testing.T) {
	raw := "Here is the code:\n```python\nprint(\"hi\")\n```\nEnjoy!"
	if got := Sanitize(raw); got != `print("hi")` {
		t.Errorf("got %q", got)
	}
}

func TestSanitize_ShouldDropLeadingLanguageTokens(t *testing.T) {
	for _, raw := range []string{
		"python\nprint(1)",
		"Python\nprint(1)",
		"C++\ncpp\nprint(1)", // stacked tokens
	} {
		got := Sanitize(raw)
		if got != "print(1)" {
			t.Errorf("Sanitize(%q) = %q", raw, got)
		}
	}
}

func TestSanitize_ShouldStripBOM(t *testing.T) {
	if got := Sanitize("\uFEFFprint(1)"); got != "print(1)" {
		t.Errorf("got %q", got)
	}
}

func TestSanitize_BareFenceLines_ShouldBeRemoved(t *testing.T) {
	raw := "print(1)\n```"
	if got := Sanitize(raw); got != "print(1)" {
		t.Errorf("got %q", got)
	}
}

func TestSanitize_PlainCode_ShouldPassThrough(t *testing.T) {
	code := "import sys\nprint(sys.argv)"
	if got := Sanitize(code); got != code {
		t.Errorf("got %q", got)
	}
}

func TestSanitize_EmptyOrWhitespace_ShouldReturnEmpty(t *testing.T) {
	for _, raw := range []string{"", "   \n\t", "```\n```"} {
		if got := Sanitize(raw); got != "" {
			t.Errorf("Sanitize(%q) = %q, want empty", raw, got)
		}
	}
}

// =============================================================================
// Writer
// =============================================================================

func TestWrite_WithLanguage_ShouldSkipDetection(t *testing.T) {
	p := &scriptedProvider{responses: []string{"```python\nprint(42)\n```"}}
	w := NewWriter(p, quietLogger())

	code, lang, err := w.Write(context.Background(), "print the answer", domain.LangPython, "")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if code != "print(42)" || lang != domain.LangPython {
		t.Errorf("got (%q, %q)", code, lang)
	}
	if len(p.prompts) != 1 {
		t.Errorf("made %d LLM calls, want 1", len(p.prompts))
	}
	if !strings.Contains(p.prompts[0], "Write a python program to print the answer.") {
		t.Errorf("prompt = %q", p.prompts[0])
	}
}

func TestWrite_EmptyLanguage_ShouldDetectFirst(t *testing.T) {
	p := &scriptedProvider{responses: []string{"javascript", "console.log(1)"}}
	w := NewWriter(p, quietLogger())

	code, lang, err := w.Write(context.Background(), "log a number in node", "", "")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if lang != domain.LangJavaScript {
		t.Errorf("lang = %q", lang)
	}
	if code != "console.log(1)" {
		t.Errorf("code = %q", code)
	}
	if len(p.prompts) != 2 {
		t.Fatalf("made %d LLM calls, want detection + generation", len(p.prompts))
	}
	if !strings.Contains(p.prompts[0], "language detection assistant") {
		t.Errorf("first prompt should detect language: %q", p.prompts[0])
	}
}

func TestWrite_DetectionFailure_ShouldDefaultToPython(t *testing.T) {
	p := &scriptedProvider{responses: []string{"I cannot tell", "print(1)"}}
	w := NewWriter(p, quietLogger())

	_, lang, err := w.Write(context.Background(), "do something", "", "")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if lang != domain.LangPython {
		t.Errorf("lang = %q, want python fallback", lang)
	}
}

func TestWrite_WithContext_ShouldIncludeItInPrompt(t *testing.T) {
	p := &scriptedProvider{responses: []string{"print(1)"}}
	w := NewWriter(p, quietLogger())

	_, _, err := w.Write(context.Background(), "task", domain.LangPython, "def helper(): ...")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.Contains(p.prompts[0], "Context:\ndef helper(): ...") {
		t.Errorf("prompt missing priming context: %q", p.prompts[0])
	}
}

func TestWrite_EmptyTask_ShouldError(t *testing.T) {
	w := NewWriter(&scriptedProvider{}, quietLogger())
	if _, _, err := w.Write(context.Background(), "  ", domain.LangPython, ""); err == nil {
		t.Fatal("expected error for empty task")
	}
}

func TestWrite_EmptyModelOutput_ShouldError(t *testing.T) {
	p := &scriptedProvider{responses: []string{"```\n```"}}
	w := NewWriter(p, quietLogger())
	if _, _, err := w.Write(context.Background(), "task", domain.LangPython, ""); err == nil {
		t.Fatal("expected error for empty generated code")
	}
}

func TestWrite_ProviderFailure_ShouldError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("quota exceeded")}
	w := NewWriter(p, quietLogger())
	if _, _, err := w.Write(context.Background(), "task", domain.LangPython, ""); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

// =============================================================================
// Language parsing
// =============================================================================

func TestParseLanguage_ShouldMapModelAnswers(t *testing.T) {
	cases := map[string]domain.Language{
		"python":                  domain.LangPython,
		"  JavaScript  ":          domain.LangJavaScript,
		"java":                    domain.LangJava,
		"cpp":                     domain.LangCPP,
		"c++":                     domain.LangCPP,
		"c":                       domain.LangC,
		"The answer is python.":   domain.LangPython,
		"probably javascript imo": domain.LangJavaScript,
		"no idea":                 domain.LangPython,
	}
	for in, want := range cases {
		if got := parseLanguage(in); got != want {
			t.Errorf("parseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// Fixer
// =============================================================================

func TestFix_ShouldIncludeCodeAndErrorInPrompt(t *testing.T) {
	p := &scriptedProvider{responses: []string{"```python\nprint('fixed')\n```"}}
	f := NewFixer(p, quietLogger())

	fixed, err := f.Fix(context.Background(), "print(x)", "NameError: name 'x' is not defined", domain.LangPython, "")
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}
	if fixed != "print('fixed')" {
		t.Errorf("fixed = %q", fixed)
	}
	prompt := p.prompts[0]
	if !strings.Contains(prompt, "print(x)") || !strings.Contains(prompt, "NameError") {
		t.Errorf("prompt missing code or error: %q", prompt)
	}
}

func TestFix_Java_ShouldRequireMainClass(t *testing.T) {
	p := &scriptedProvider{responses: []string{"public class Main {}"}}
	f := NewFixer(p, quietLogger())

	if _, err := f.Fix(context.Background(), "class X {}", "error: class X is public", domain.LangJava, ""); err != nil {
		t.Fatalf("Fix failed: %v", err)
	}
	if !strings.Contains(p.prompts[0], "public class Main") {
		t.Errorf("java prompt missing Main constraint: %q", p.prompts[0])
	}
}

func TestFix_MissingInputs_ShouldError(t *testing.T) {
	f := NewFixer(&scriptedProvider{}, quietLogger())
	if _, err := f.Fix(context.Background(), "", "err", domain.LangPython, ""); err == nil {
		t.Error("expected error for empty code")
	}
	if _, err := f.Fix(context.Background(), "code", "", domain.LangPython, ""); err == nil {
		t.Error("expected error for empty error text")
	}
}

func TestFix_EmptyModelOutput_ShouldError(t *testing.T) {
	p := &scriptedProvider{responses: []string{"   "}}
	f := NewFixer(p, quietLogger())
	if _, err := f.Fix(context.Background(), "code", "err", domain.LangPython, ""); err == nil {
		t.Fatal("expected error for empty fix")
	}
}
