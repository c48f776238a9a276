package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_NAME", "tree")
	path := writeFile(t, t.TempDir(), "c.yaml", "name: ${CONFIG_TEST_NAME}\nport: 80\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "tree" || s.Port != 80 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_KeepsUnsetFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yaml", "name: x\n")
	s := sample{Port: 8080}
	if err := Load(path, &s); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Port != 8080 {
		t.Errorf("port = %d, want default kept", s.Port)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yaml", "port: 0\n")
	var s sample
	err := Load(path, &s)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")
	fallback := writeFile(t, dir, "default.yaml", "name: fallback\nport: 1\n")

	var s sample
	if err := LoadWithDefaults(missing, fallback, &s); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "fallback" {
		t.Errorf("name = %q", s.Name)
	}

	s = sample{Name: "preset", Port: 7}
	if err := LoadWithDefaults(missing, "", &s); err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if s.Name != "preset" || s.Port != 7 {
		t.Errorf("defaults changed: %+v", s)
	}

	var invalid sample
	if err := LoadWithDefaults(missing, "", &invalid); err == nil {
		t.Fatal("defaults must still be validated")
	}
}
