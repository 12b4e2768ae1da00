package semver

import (
	"testing"
)

func TestParseServiceRef(t *testing.T) {
	tests := []struct {
		input   string
		id      string
		rng     string
		wantErr bool
	}{
		{"echo", "echo", "", false},
		{"  doc.ingest@3 ", "doc.ingest", "3", false},
		{"echo@^3.2.0", "echo", "^3.2.0", false},
		{"echo@>=1.0.0 <2.0.0", "echo", ">=1.0.0 <2.0.0", false},
		{"", "", "", true},
		{"@1.0.0", "", "", true},
		{"9lives", "", "", true},
		{"bad id", "", "", true},
	}

	for _, tt := range tests {
		ref, err := ParseServiceRef(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("semver:parser_test - expected error for %q", tt.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("semver:parser_test - unexpected error for %q: %v", tt.input, err)
		}
		if ref.ID != tt.id || ref.Range != tt.rng {
			t.Errorf("semver:parser_test - %q parsed to (%q, %q), want (%q, %q)", tt.input, ref.ID, ref.Range, tt.id, tt.rng)
		}
	}
}

func TestBaseID(t *testing.T) {
	if got := BaseID("echo@^1"); got != "echo" {
		t.Errorf("semver:parser_test - expected echo, got %s", got)
	}
	if got := BaseID("echo"); got != "echo" {
		t.Errorf("semver:parser_test - expected echo, got %s", got)
	}
}

func TestIsMajorOnly(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"3", true},
		{"12", true},
		{"3.2", false},
		{"^3", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMajorOnly(tt.input); got != tt.want {
			t.Errorf("semver:parser_test - IsMajorOnly(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
	if got := ExtractMajorFromRange("12"); got != 12 {
		t.Errorf("semver:parser_test - expected 12, got %d", got)
	}
	if got := ExtractMajorFromRange("^1"); got != -1 {
		t.Errorf("semver:parser_test - expected -1, got %d", got)
	}
}

func TestIsExactVersion(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"3.2.1", true},
		{"3.2.1-beta.1", true},
		{"3.2", false},
		{"^3.2.1", false},
	}
	for _, tt := range tests {
		if got := IsExactVersion(tt.input); got != tt.want {
			t.Errorf("semver:parser_test - IsExactVersion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestBuildServiceRef(t *testing.T) {
	if got := BuildServiceRef("echo", "1.2.0"); got != "echo@1.2.0" {
		t.Errorf("semver:parser_test - expected echo@1.2.0, got %s", got)
	}
	if got := BuildServiceRef("echo", ""); got != "echo" {
		t.Errorf("semver:parser_test - expected echo, got %s", got)
	}
}
