package envelope

import (
	"testing"

	"SecureUSB/internal/errors"
)

func TestName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"photo.jpg", ".photo.jpg.enc", false},
		{"notes", ".notes.enc", false},
		{".bashrc", "..bashrc.enc", false},
		{"", "", true},
		{".", "", true},
		{"..", "", true},
		{"dir/file", "", true},
		{`dir\file`, "", true},
	}

	for _, tt := range tests {
		got, err := Name(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Name(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, errors.ErrInput) {
			t.Errorf("Name(%q) error = %v; want ErrInput", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Name(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestOriginalName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{".photo.jpg.enc", "photo.jpg", false},
		{"..bashrc.enc", ".bashrc", false},
		{"photo.jpg", "", true},
		{".enc", "", true},
		{"..enc", "", true},
		{"...enc", "", true},
	}

	for _, tt := range tests {
		got, err := OriginalName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("OriginalName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("OriginalName(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	for in, want := range map[string]string{
		"report.pdf":      ".report.pdf.enc",
		".report.pdf.enc": ".report.pdf.enc",
	} {
		got, err := Resolve(in)
		if err != nil {
			t.Errorf("Resolve(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Resolve(%q) = %q; want %q", in, got, want)
		}
	}
	if _, err := Resolve("../escape"); err == nil {
		t.Error("Resolve should reject path separators")
	}
}
