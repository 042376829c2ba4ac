package render

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodrigopv/faleproxy/internal/relay"
)

func sampleResult() *relay.FetchResult {
	return &relay.FetchResult{
		Success:     true,
		Content:     `<html><head><title>Fale University</title></head><body><h1>Welcome to Fale University</h1><p><a href="https://www.yale.edu/about">About Fale</a></p></body></html>`,
		Title:       "Fale University",
		OriginalURL: "https://www.yale.edu/",
	}
}

func TestWrite(t *testing.T) {
	color.NoColor = true

	t.Run("json", func(t *testing.T) {
		var sb strings.Builder
		require.NoError(t, Write(&sb, sampleResult(), FormatJSON))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(sb.String()), &decoded))
		assert.Equal(t, true, decoded["success"])
		assert.Equal(t, "Fale University", decoded["title"])
		assert.Equal(t, "https://www.yale.edu/", decoded["originalUrl"])
		assert.Contains(t, sb.String(), "<h1>Welcome to Fale University</h1>")
		assert.NotContains(t, decoded, "description")
	})

	t.Run("html", func(t *testing.T) {
		var sb strings.Builder
		require.NoError(t, Write(&sb, sampleResult(), FormatHTML))
		assert.Equal(t, sampleResult().Content, sb.String())
	})

	t.Run("markdown", func(t *testing.T) {
		var sb strings.Builder
		require.NoError(t, Write(&sb, sampleResult(), FormatMarkdown))
		assert.Contains(t, sb.String(), "# Welcome to Fale University")
		assert.Contains(t, sb.String(), "[About Fale](https://www.yale.edu/about)")
	})

	t.Run("text", func(t *testing.T) {
		result := sampleResult()
		result.FinalURL = "https://www.yale.edu/home"
		var sb strings.Builder
		require.NoError(t, Write(&sb, result, FormatText))
		out := sb.String()
		assert.Contains(t, out, "Relay Result for: https://www.yale.edu/")
		assert.Contains(t, out, "Final URL: https://www.yale.edu/home")
		assert.Contains(t, out, "Title: Fale University")
		assert.NotContains(t, out, "Description:")
	})

	t.Run("unknown", func(t *testing.T) {
		var sb strings.Builder
		assert.Error(t, Write(&sb, sampleResult(), "pdf"))
	})
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.html")
	require.NoError(t, WriteFile(path, sampleResult(), FormatHTML))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleResult().Content, string(data))

	assert.Error(t, WriteFile(filepath.Join(t.TempDir(), "missing", "out.html"), sampleResult(), FormatHTML))
}

func TestValidFormat(t *testing.T) {
	for _, f := range Formats {
		assert.True(t, ValidFormat(f))
	}
	assert.False(t, ValidFormat("xml"))
}
