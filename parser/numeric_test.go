package parser

import "testing"

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in     string
		want   float32
		wantOK bool
	}{
		{"0", 0, true},
		{"1", 1, true},
		{"-1.5", -1.5, true},
		{"+2", 2, true},
		{".5", 0.5, true},
		{"5.", 5, true},
		{"0.000001", 0.000001, true},
		{"-123.456", -123.456, true},
		{"1e3", 1000, true},
		{"-2.5E-1", -0.25, true},
		{"1234567890.1234567890", 1234567890.1234567890, true},
		{"", 0, false},
		{"-", 0, false},
		{".", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"1,5", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseFloat([]byte(tt.in))
			if ok != tt.wantOK {
				t.Fatalf("parseFloat(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseFloat(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"1", 1, true},
		{"42", 42, true},
		{"-3", -3, true},
		{"0", 0, true},
		{"", 0, false},
		{"-", 0, false},
		{"1.0", 0, false},
		{"x", 0, false},
		{"1234567890123456789", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseIndex([]byte(tt.in))
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseIndex(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNextField(t *testing.T) {
	field, rest := nextField([]byte("  \tvt 0.5 1\r"))
	if string(field) != "vt" {
		t.Fatalf("field = %q, want %q", field, "vt")
	}
	field, rest = nextField(rest)
	if string(field) != "0.5" {
		t.Fatalf("field = %q, want %q", field, "0.5")
	}
	field, rest = nextField(rest)
	if string(field) != "1" {
		t.Fatalf("field = %q, want %q", field, "1")
	}
	if field, _ = nextField(rest); field != nil {
		t.Errorf("expected nil field at end of line, got %q", field)
	}
}
