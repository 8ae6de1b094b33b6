package util

import "testing"

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"大语言模型入门", 3, "大语言..."},
		{"LLM", 3, "LLM"},
		{"", 2, ""},
	}
	for _, tt := range tests {
		if got := TruncateString(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  大模型 \n\t 实战  "); got != "大模型 实战" {
		t.Fatalf("CollapseWhitespace() = %q", got)
	}
}
