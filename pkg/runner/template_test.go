package runner

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplateWholeMatch(t *testing.T) {
	re := regexp.MustCompile(`ERROR: (\w+)`)
	out := RenderTemplate("saw {match}", re, "ERROR: disk_full")
	assert.Equal(t, "saw ERROR: disk_full", out)
}

func TestRenderTemplateNumberedGroup(t *testing.T) {
	re := regexp.MustCompile(`ERROR: (\w+)`)
	out := RenderTemplate("code={g1}", re, "ERROR: disk_full")
	assert.Equal(t, "code=disk_full", out)
}

func TestRenderTemplateNamedGroup(t *testing.T) {
	re := regexp.MustCompile(`ERROR: (?P<code>\w+)`)
	out := RenderTemplate("code={code}", re, "ERROR: disk_full")
	assert.Equal(t, "code=disk_full", out)
}

func TestRenderTemplateFallsBackOnUnknownPlaceholder(t *testing.T) {
	re := regexp.MustCompile(`ERROR: (\w+)`)
	tmpl := "missing={g7}"
	out := RenderTemplate(tmpl, re, "ERROR: disk_full")
	assert.Equal(t, tmpl, out)
}

func TestRenderTemplateFallsBackOnMalformedBrace(t *testing.T) {
	re := regexp.MustCompile(`ERROR: (\w+)`)
	tmpl := "unterminated {match"
	out := RenderTemplate(tmpl, re, "ERROR: disk_full")
	assert.Equal(t, tmpl, out)
}

func TestRenderTemplateNoMatchReturnsTemplate(t *testing.T) {
	re := regexp.MustCompile(`ERROR: (\w+)`)
	tmpl := "saw {match}"
	out := RenderTemplate(tmpl, re, "all good")
	assert.Equal(t, tmpl, out)
}
