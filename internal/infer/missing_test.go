package infer

import (
	"reflect"
	"testing"
)

func TestMissingInputFiles_ShouldDetectQuotedFilename(t *testing.T) {
	stderr := `FileNotFoundError: [Errno 2] No such file or directory: 'report.pdf'`
	got := MissingInputFiles(stderr)
	want := []string{"report.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingInputFiles_ShouldDetectUnquotedOperand(t *testing.T) {
	got := MissingInputFiles("pdftoppm: file not found: input.pdf")
	want := []string{"input.pdf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingInputFiles_ShouldDetectInputFilePhrase(t *testing.T) {
	got := MissingInputFiles("Input data file 'sales.csv' not found")
	want := []string{"sales.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingInputFiles_ShouldIgnoreNonDataExtensions(t *testing.T) {
	got := MissingInputFiles("no such file or directory: libfoo.so")
	if len(got) != 0 {
		t.Errorf("expected nothing for .so, got %v", got)
	}
}

func TestMissingInputFiles_ShouldBeCaseInsensitiveOnExtension(t *testing.T) {
	got := MissingInputFiles(`cannot open 'SCAN.PDF'`)
	want := []string{"SCAN.PDF"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingInputFiles_ShouldSortAndDeduplicate(t *testing.T) {
	stderr := `missing 'b.csv' and 'a.csv'; no such file or directory: 'b.csv'`
	got := MissingInputFiles(stderr)
	want := []string{"a.csv", "b.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingInputFiles_ShouldReturnNilForCleanStderr(t *testing.T) {
	if got := MissingInputFiles("NameError: name 'x' is not defined"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestMissingPythonModules_ShouldExtractModuleName(t *testing.T) {
	stderr := "ModuleNotFoundError: No module named 'pandas'"
	got := MissingPythonModules(stderr)
	want := []string{"pandas"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingPythonModules_ShouldCollectAllAndDeduplicate(t *testing.T) {
	stderr := "No module named 'numpy'\nNo module named 'cv2'\nNo module named 'numpy'"
	got := MissingPythonModules(stderr)
	want := []string{"numpy", "cv2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingPythonModules_ShouldUseRootOfDottedName(t *testing.T) {
	got := MissingPythonModules("No module named 'matplotlib.pyplot'")
	want := []string{"matplotlib"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
