package infer

import (
	"regexp"
	"sort"
	"strings"
)

// dataExtensions are the file extensions recognized as user-supplied inputs.
var dataExtensions = map[string]struct{}{
	".pdf": {}, ".csv": {}, ".xls": {}, ".xlsx": {}, ".txt": {},
	".json": {}, ".xml": {}, ".jpg": {}, ".png": {},
}

var (
	quotedFileRe = regexp.MustCompile(`['"]([^'"]+\.(?i:pdf|csv|xls|xlsx|txt|json|xml|jpg|png))['"]`)
	// Operands of classic not-found phrasings. The filename may or may not be quoted.
	notFoundRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)no such file or directory:\s*'?([^\s'"]+)'?`),
		regexp.MustCompile(`(?i)file not found:\s*'?([^\s'"]+)'?`),
		regexp.MustCompile(`(?i)input .* file '([^']+)' not found`),
	}
)

// hasDataExtension reports whether name ends in a recognized input extension.
func hasDataExtension(name string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return false
	}
	_, ok := dataExtensions[strings.ToLower(name[idx:])]
	return ok
}

// MissingInputFiles scans stderr for files the program tried and failed to
// open. Only names with a recognized data extension are reported, sorted and
// deduplicated. An empty result means the failure was not about missing input.
func MissingInputFiles(stderr string) []string {
	seen := make(map[string]struct{})
	for _, m := range quotedFileRe.FindAllStringSubmatch(stderr, -1) {
		seen[m[1]] = struct{}{}
	}
	for _, re := range notFoundRes {
		for _, m := range re.FindAllStringSubmatch(stderr, -1) {
			if hasDataExtension(m[1]) {
				seen[m[1]] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var missingModuleRe = regexp.MustCompile(`No module named '([A-Za-z_][\w.]*)'`)

// MissingPythonModules extracts every module named by a
// "ModuleNotFoundError: No module named 'X'" (or bare "No module named 'X'")
// line in stderr, deduplicated in first-seen order.
func MissingPythonModules(stderr string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range missingModuleRe.FindAllStringSubmatch(stderr, -1) {
		root := strings.SplitN(m[1], ".", 2)[0]
		if _, dup := seen[root]; dup {
			continue
		}
		seen[root] = struct{}{}
		out = append(out, root)
	}
	return out
}
