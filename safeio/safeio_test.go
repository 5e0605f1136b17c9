package safeio

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/data/shots", "cards-report.html", false},
		{"/data/shots", "../etc/passwd", true},
		{"/data/shots", "abc/../def", true},
		{"/data/shots", "abc/../../outside", true},
		{"/data/shots", "hero-default-diff-iter1.png", false},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && filepath.Dir(got) != filepath.Clean(tt.base) {
			t.Errorf("SafePath(%q, %q) = %q, not directly under base", tt.base, tt.input, got)
		}
	}
}

func TestStem(t *testing.T) {
	tests := []struct{ in, want string }{
		{"cards", "cards"},
		{"cards-WithImageNoLink", "cards-WithImageNoLink"},
		{"hero/../../etc", "hero-etc"},
		{"  spaced  name ", "spaced-name"},
		{"a.b", "a-b"},
		{"///", "element"},
		{"", "element"},
	}
	for _, tt := range tests {
		if got := Stem(tt.in); got != tt.want {
			t.Errorf("Stem(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier("cards_01-a.b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateIdentifier("bad name"); err == nil {
		t.Fatal("expected error for space")
	}
	if err := ValidateIdentifier(""); err == nil {
		t.Fatal("expected error for empty")
	}
}

func TestValidateScheme(t *testing.T) {
	if err := ValidateScheme("https://s3.example.com/img.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateScheme("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("file scheme: got %v", err)
	}
	if err := ValidateScheme("http://"); err == nil {
		t.Fatal("expected error for empty host")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("at limit: data=%q err=%v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("over limit: got %v", err)
	}
}
