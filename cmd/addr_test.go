package cmd

import (
	"os"
	"testing"
)

func TestParseServeAddr(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "default", args: []string{"corvus", "serve"}, want: ":8080"},
		{name: "positional", args: []string{"corvus", "serve", ":9000"}, want: ":9000"},
		{name: "flag", args: []string{"corvus", "serve", "--addr", "127.0.0.1:9000"}, want: "127.0.0.1:9000"},
		{name: "single dash", args: []string{"corvus", "serve", "-addr", "localhost:9000"}, want: "localhost:9000"},
		{name: "missing port", args: []string{"corvus", "serve", "localhost"}, wantErr: true},
		{name: "bad port", args: []string{"corvus", "serve", ":notaport"}, wantErr: true},
		{name: "port out of range", args: []string{"corvus", "serve", ":70000"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := os.Args
			defer func() { os.Args = orig }()
			os.Args = tt.args

			got, err := parseServeAddr(":8080")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseServeAddr() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseServeAddr(): %v", err)
			}
			if got != tt.want {
				t.Errorf("parseServeAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateAddr(t *testing.T) {
	valid := []string{":8080", ":0", "localhost:3400", "127.0.0.1:80", "[::1]:8080"}
	for _, addr := range valid {
		if err := validateAddr(addr); err != nil {
			t.Errorf("validateAddr(%q) = %v, want nil", addr, err)
		}
	}

	invalid := []string{"", "8080", "localhost:", "host name:80", ":-1"}
	for _, addr := range invalid {
		if err := validateAddr(addr); err == nil {
			t.Errorf("validateAddr(%q) = nil, want error", addr)
		}
	}
}
