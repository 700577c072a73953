package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestPrompter(input string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Prompter{In: strings.NewReader(input), Out: out}, out
}

func TestAsk(t *testing.T) {
	tests := []struct {
		input, def, want string
	}{
		{"hello\n", "default", "hello"},
		{"\n", "fallback", "fallback"},
		{"   \n", "fallback", "fallback"},
		{"", "eof", "eof"},
	}
	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input)
		if got := p.Ask("Name", tt.def); got != tt.want {
			t.Errorf("Ask(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAskValidRetries(t *testing.T) {
	p, out := newTestPrompter("bad\ngood\n")
	got := p.AskValid("Value", "", func(s string) error {
		if s != "good" {
			return errors.New("not good")
		}
		return nil
	})
	if got != "good" {
		t.Errorf("AskValid() = %q", got)
	}
	if !strings.Contains(out.String(), "not good") {
		t.Error("expected validation message in output")
	}
}

func TestAskValidEOFReturnsDefault(t *testing.T) {
	p, _ := newTestPrompter("")
	got := p.AskValid("Value", "dflt", func(s string) error { return errors.New("never") })
	if got != "dflt" {
		t.Errorf("AskValid() = %q, want default", got)
	}
}

func TestAskPassword_Fallback(t *testing.T) {
	p, _ := newTestPrompter("secret123\n")
	if got := p.AskPassword("Password"); got != "secret123" {
		t.Errorf("AskPassword() = %q", got)
	}
}

func TestAskInt(t *testing.T) {
	p, _ := newTestPrompter("abc\n-2\n48\n")
	if got := p.AskInt("Hours", 24); got != 48 {
		t.Errorf("AskInt() = %d, want 48", got)
	}
	p, _ = newTestPrompter("\n")
	if got := p.AskInt("Hours", 24); got != 24 {
		t.Errorf("AskInt() default = %d, want 24", got)
	}
}

func TestChoose(t *testing.T) {
	p, out := newTestPrompter("9\n2\n")
	got := p.Choose("Driver", []string{"sqlite", "postgres", "memory"}, 0)
	if got != "postgres" {
		t.Errorf("Choose() = %q", got)
	}
	if !strings.Contains(out.String(), "> 1) sqlite") {
		t.Error("default option not marked")
	}

	p, _ = newTestPrompter("\n")
	if got := p.Choose("Driver", []string{"sqlite", "postgres"}, 1); got != "postgres" {
		t.Errorf("Choose() default = %q", got)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"sí\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
	}
	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input)
		if got := p.Confirm("Continue?", tt.defaultYes); got != tt.want {
			t.Errorf("Confirm(%q, %v) = %v", tt.input, tt.defaultYes, got)
		}
	}
}
