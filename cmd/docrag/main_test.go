package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/docrag/internal/answer"
	"github.com/efebarandurmaz/docrag/internal/config"
	"github.com/efebarandurmaz/docrag/internal/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestApplyIngestFlags(t *testing.T) {
	var f ingestFlags
	cmd := newIngestCmd(&rootFlags{})
	require.NoError(t, cmd.ParseFlags([]string{"--ocr-engine", "neural", "--ocr-lang", "tha+eng", "--no-gpu", "--db-dir", "/tmp/x", "--workers", "3"}))

	// Re-read the parsed values through the command's own flag set.
	f.ocrEngine, _ = cmd.Flags().GetString("ocr-engine")
	f.ocrLang, _ = cmd.Flags().GetString("ocr-lang")
	f.noGPU, _ = cmd.Flags().GetBool("no-gpu")
	f.dbDir, _ = cmd.Flags().GetString("db-dir")
	f.workers, _ = cmd.Flags().GetInt("workers")

	cfg := config.Default()
	applyIngestFlags(cmd, cfg, &f)
	assert.Equal(t, "neural", cfg.OCR.Engine)
	assert.Equal(t, "tha+eng", cfg.OCR.Lang)
	assert.False(t, cfg.OCR.GPU)
	assert.Equal(t, "/tmp/x", cfg.Index.Dir)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, 300, cfg.OCR.DPI, "unset flags keep config values")
	assert.Contains(t, cmd.Flags().Lookup("ocr").Usage, "look scanned", "help describes the default auto policy")
}

func TestBuildQuery(t *testing.T) {
	cfg := config.Default()
	q, err := buildQuery("What color is the sky?", true, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, q.K)
	assert.True(t, q.Raw)
	assert.Nil(t, q.Threshold)

	cfg.Query.Threshold = 0.25
	q, err = buildQuery("sky", false, cfg)
	require.NoError(t, err)
	require.NotNil(t, q.Threshold)
	assert.InDelta(t, 0.25, *q.Threshold, 1e-6)

	cfg.Query.NumChunks = 0
	_, err = buildQuery("sky", false, cfg)
	assert.ErrorIs(t, err, model.ErrInvalidQuery)

	_, err = buildQuery("", false, config.Default())
	assert.ErrorIs(t, err, model.ErrInvalidQuery)
}

func TestConfirmContinue(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		input string
		yes   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", false, false},
		{"", false, false},
		{"", true, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirmContinue(strings.NewReader(tt.input), &out, tt.yes)(context.Background(), cause)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		if !tt.yes {
			assert.Contains(t, out.String(), "Continue anyway?")
		}
	}
}

func TestQueryCommand_EmptyIndex(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")

	out, err := execute(t, "query", "What color is the sky?", "--raw-chunks", "--db-dir", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No matching chunks.")

	out, err = execute(t, "query", "What color is the sky?", "--db-dir", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Answer:")
	assert.Contains(t, out, answer.NoContextAnswer)
}

func TestQueryCommand_InvalidNumChunks(t *testing.T) {
	_, err := execute(t, "query", "sky", "--num-chunks", "0", "--db-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, model.ExitQuery, model.ExitCode(err))
}

func TestIngestCommand_UnsupportedLanguage(t *testing.T) {
	_, err := execute(t, "ingest", t.TempDir(), "--ocr", "--ocr-lang", "zzz", "--db-dir", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnsupportedLanguage)
	assert.Equal(t, model.ExitOCR, model.ExitCode(err))
}

func TestIngestCommand_InvalidWindow(t *testing.T) {
	t.Setenv("DOCRAG_CHUNK_OVERLAP", "1000")
	_, err := execute(t, "ingest", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, model.ExitInput, model.ExitCode(err))
}

func TestProvidersCommand(t *testing.T) {
	out, err := execute(t, "providers")
	require.NoError(t, err)
	assert.Contains(t, out, "ollama")
	assert.Contains(t, out, "http://localhost:11434")
	assert.Contains(t, out, "gemini")
	assert.Contains(t, out, "DOCRAG_LLM_PROVIDER")
}

func TestStatsCommand_EmptyLocalIndex(t *testing.T) {
	out, err := execute(t, "stats", "--db-dir", filepath.Join(t.TempDir(), "db"), "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "local"`)
	assert.Contains(t, out, `"entries": 0`)
}
