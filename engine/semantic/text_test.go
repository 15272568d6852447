package semantic

import "testing"

func TestCleanText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Great food, friendly staff!", "Great food, friendly staff!"},
		{"emoji stripped", "Amazing tarte flambée 🔥🔥 10/10", "Amazing tarte flambée 10/10"},
		{"accents kept", "Très bon, crème brûlée légère", "Très bon, crème brûlée légère"},
		{"newlines to spaces", "line one\nline two\r\nline three", "line one line two line three"},
		{"whitespace collapsed", "  too    many   spaces  ", "too many spaces"},
		{"punctuation kept", "Worth it? Yes; really: 5-star, I'd return.", "Worth it? Yes; really: 5-star, I'd return."},
		{"only noise", "✨💫🎉", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanText(tc.in); got != tc.want {
				t.Errorf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
