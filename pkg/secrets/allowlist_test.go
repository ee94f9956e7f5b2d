package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadAllowlists_Merged(t *testing.T) {
	vault := t.TempDir()
	writeFile(t, filepath.Join(vault, VaultAllowlistFile), `[allowlist]
paths = ['''templates/.*''']
regexes = ['''DEMO_API_KEY''', '''EXAMPLE_.*''']
`)
	user := filepath.Join(t.TempDir(), "allowlist.toml")
	writeFile(t, user, `[allowlist]
regexes = ['''MY_PERSONAL_DEMO_KEY''']
`)

	al, err := LoadAllowlists(vault, user)
	if err != nil {
		t.Fatalf("LoadAllowlists() error = %v", err)
	}
	if len(al.Paths) != 1 {
		t.Errorf("got %d paths, want 1", len(al.Paths))
	}
	if len(al.Regexes) != 3 {
		t.Errorf("got %d regexes, want 3", len(al.Regexes))
	}
	if al.Empty() {
		t.Error("Empty() = true for a populated allowlist")
	}
}

func TestLoadAllowlists_MissingFiles(t *testing.T) {
	al, err := LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadAllowlists() error = %v", err)
	}
	if !al.Empty() {
		t.Errorf("expected empty allowlist, got %+v", al)
	}

	al, err = LoadAllowlists("", "")
	if err != nil || !al.Empty() {
		t.Errorf("LoadAllowlists(\"\", \"\") = %+v, %v", al, err)
	}
}

func TestLoadAllowlists_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"bad toml", "[allowlist\nregexes = [", ErrInvalidTOML},
		{"bad content regex", "[allowlist]\nregexes = ['''(unclosed''']\n", ErrInvalidRegex},
		{"bad path regex", "[allowlist]\npaths = ['''[z-a]''']\n", ErrInvalidRegex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vault := t.TempDir()
			writeFile(t, filepath.Join(vault, VaultAllowlistFile), tt.content)
			_, err := LoadAllowlists(vault, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
