package textutil

import "testing"

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"<p>Hello <b>world</b></p>", "Hello world"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"  spaced\n\n out  ", "spaced out"},
		{`<script>alert("x")</script>kept`, "kept"},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanLines(t *testing.T) {
	if got := CleanLines("  a  b \n\n\n  c "); got != "a b\nc" {
		t.Errorf("CleanLines = %q", got)
	}
}

func TestContainsFold(t *testing.T) {
	tests := []struct {
		s, phrase string
		want      bool
	}{
		{"Policy RESCINDED", "rescinded", true},
		{"ＦＵＬＬ width", "full", true},
		{"anything", "  ", false},
		{"abc", "xyz", false},
	}
	for _, tt := range tests {
		if got := ContainsFold(tt.s, tt.phrase); got != tt.want {
			t.Errorf("ContainsFold(%q, %q) = %v, want %v", tt.s, tt.phrase, got, tt.want)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Distributed Systems": "distributed-systems",
		"#Go":                 "go",
		"C++ / Rust":          "c++-rust",
		"  ":                  "",
		"node.js.":            "node.js",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTernary(t *testing.T) {
	if Ternary(true, "a", "b") != "a" || Ternary(false, 1, 2) != 2 {
		t.Error("Ternary picked the wrong branch")
	}
}
