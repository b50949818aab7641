package output

import (
	"os"
	"strings"
	"testing"
)

func TestColorSchemes(t *testing.T) {
	for name, scheme := range map[string]*ColorScheme{
		"default":  DefaultColorScheme(),
		"no color": NoColorScheme(),
	} {
		if scheme.Method == nil || scheme.URL == nil || scheme.HeaderKey == nil {
			t.Errorf("%s scheme has nil request colors", name)
		}
		if scheme.StatusOK == nil || scheme.StatusWarn == nil || scheme.StatusError == nil {
			t.Errorf("%s scheme has nil status colors", name)
		}
	}

	plain := NoColorScheme()
	if got := plain.Method.Sprint("GET"); got != "GET" {
		t.Errorf("NoColorScheme should not add escape codes, got %q", got)
	}
}

func TestColorScheme_Status(t *testing.T) {
	s := DefaultColorScheme()
	tests := []struct {
		code int
		want interface{}
	}{
		{200, s.StatusOK},
		{204, s.StatusOK},
		{301, s.StatusWarn},
		{404, s.StatusError},
		{503, s.StatusError},
		{101, s.StatusError},
	}
	for _, tt := range tests {
		if got := s.Status(tt.code); got != tt.want {
			t.Errorf("Status(%d) picked the wrong color", tt.code)
		}
	}
}

func TestUseColor(t *testing.T) {
	if UseColor(true, os.Stdout) {
		t.Error("UseColor(noColor=true) should be false")
	}
	if UseColor(false, nil) {
		t.Error("UseColor(nil file) should be false")
	}

	t.Setenv("NO_COLOR", "1")
	if UseColor(false, os.Stdout) {
		t.Error("UseColor should honor NO_COLOR")
	}

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	t.Setenv("NO_COLOR", "")
	if UseColor(false, f) {
		t.Error("UseColor should be false for a regular file")
	}
}

func TestIcons(t *testing.T) {
	tests := []struct {
		name string
		icon func(bool) string
		want string
	}{
		{"success", SuccessIcon, "✓"},
		{"error", ErrorIcon, "✗"},
		{"warning", WarningIcon, "⚠"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.icon(true); got != tt.want {
				t.Errorf("icon(noColor) = %q, want %q", got, tt.want)
			}
			if got := tt.icon(false); !strings.Contains(got, tt.want) {
				t.Errorf("icon(color) = %q, should contain %q", got, tt.want)
			}
		})
	}
}
