package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	cases := map[string]string{
		"":                                    "",
		"Linear Algebra":                      "Linear Algebra",
		"  Essay   on\tGo  ":                  "Essay on Go",
		"<b>Bold</b> title":                   "Bold title",
		"Intro<script>alert('x')</script>":    "Intro",
		"Fish & Chips":                        "Fish & Chips",
		`<a href="javascript:alert(1)">x</a>`: "x",
	}
	for input, want := range cases {
		assert.Equal(t, want, Text(input), input)
	}
}
