package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>alert(1)</script>hi", "hi"},
		{"<b>bold</b>", "bold"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.input); got != tt.expected {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("**bold** text")
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("expected strong tag in output, got %q", html)
	}
}

func TestRenderHTML_StripsScripts(t *testing.T) {
	html, err := RenderHTML("hello <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("script tag survived sanitization: %q", html)
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("General"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
	if err := ValidateName("  "); err == nil {
		t.Error("blank name accepted")
	}
	if err := ValidateName(strings.Repeat("x", 200)); err == nil {
		t.Error("overlong name accepted")
	}
}
