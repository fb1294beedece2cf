// Package infer statically analyzes generated Python source to predict the
// third-party distributions it needs, and scans runtime stderr for data files
// the program expected but did not find.
package infer

import (
	"regexp"
	"sort"
	"strings"
)

// stdlibModules are import names satisfied by the Python standard library;
// they never map to an installable distribution.
var stdlibModules = map[string]struct{}{
	"sys": {}, "os": {}, "json": {}, "re": {}, "math": {}, "itertools": {},
	"functools": {}, "collections": {}, "subprocess": {}, "pathlib": {},
	"typing": {}, "dataclasses": {}, "datetime": {}, "time": {}, "random": {},
	"logging": {}, "argparse": {}, "shutil": {}, "tempfile": {}, "uuid": {},
	"hashlib": {}, "base64": {}, "gzip": {}, "bz2": {}, "lzma": {}, "csv": {},
	"configparser": {}, "enum": {}, "statistics": {},
}

// distributionMap translates an import name into the pip distribution that
// provides it. Names absent from the map install under their own name.
var distributionMap = map[string]string{
	"cv2":        "opencv-python",
	"PIL":        "Pillow",
	"sklearn":    "scikit-learn",
	"bs4":        "beautifulsoup4",
	"yaml":       "PyYAML",
	"Crypto":     "pycryptodome",
	"dateutil":   "python-dateutil",
	"pdf2image":  "pdf2image",
	"pdfplumber": "pdfplumber",
	"PyPDF2":     "PyPDF2",
	"openpyxl":   "openpyxl",
	"reportlab":  "reportlab",
	"tabula":     "tabula-py",
	"pandas":     "pandas",
	"numpy":      "numpy",
}

var (
	importRe     = regexp.MustCompile(`^\s*import\s+([A-Za-z_][\w.]*)`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
	// import a, b as c — the tail after the first module on an import line.
	importListRe = regexp.MustCompile(`^\s*import\s+(.+)$`)
	moduleNameRe = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)
)

// Distribution maps a Python import name to its pip distribution name.
func Distribution(importName string) string {
	if dist, ok := distributionMap[importName]; ok {
		return dist
	}
	return importName
}

// PythonRequirements scans source line by line for import statements and
// returns the pip distributions they imply, sorted and deduplicated.
// Standard-library modules and relative imports are ignored. The scan is
// best-effort: source that is not valid Python simply yields fewer matches.
func PythonRequirements(source string) []string {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(source, "\n") {
		for _, name := range importedModules(line) {
			root := strings.SplitN(name, ".", 2)[0]
			if root == "" || strings.HasPrefix(root, "_") {
				continue
			}
			if _, std := stdlibModules[root]; std {
				continue
			}
			seen[Distribution(root)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for dist := range seen {
		out = append(out, dist)
	}
	sort.Strings(out)
	return out
}

// importedModules extracts the module names referenced by a single line.
func importedModules(line string) []string {
	if m := fromImportRe.FindStringSubmatch(line); m != nil {
		return []string{m[1]}
	}
	if importRe.FindStringSubmatch(line) == nil {
		return nil
	}
	// Handle "import a, b as c, d.e".
	m := importListRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	var names []string
	for _, part := range strings.Split(m[1], ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		name := strings.TrimSuffix(fields[0], ";")
		if moduleNameRe.MatchString(name) {
			names = append(names, name)
		}
	}
	return names
}
