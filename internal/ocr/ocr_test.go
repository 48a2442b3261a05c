package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers commands from a script and records every call.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	missing  bool
	langs    string
	output   func(args []string) (string, error)
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, []string{"lookpath", file})
	f.mu.Unlock()
	if f.missing {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + file, nil
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if len(args) > 0 && args[0] == "--list-langs" {
		return []byte("List of available languages in \"/usr/share/tessdata/\" (3):\n" + f.langs), nil
	}
	time.Sleep(2 * time.Millisecond)
	if f.output != nil {
		out, err := f.output(args)
		return []byte(out), err
	}
	return []byte("text"), nil
}

func (f *fakeRunner) recorded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func pages(n int) []Image {
	out := make([]Image, n)
	for i := range out {
		out[i] = Image{Page: i + 1, Path: fmt.Sprintf("/tmp/page-%d.png", i+1)}
	}
	return out
}

func TestUnsupportedLanguageFailsBeforeEngine(t *testing.T) {
	for _, engine := range []string{"classical", "neural"} {
		t.Run(engine, func(t *testing.T) {
			runner := &fakeRunner{}
			e, err := DefaultRegistry().New(engine, Options{Runner: runner})
			require.NoError(t, err)

			_, err = NewAdapter(e).Recognize(context.Background(), pages(2), "eng+qqq", 300)
			assert.ErrorIs(t, err, model.ErrUnsupportedLanguage)
			assert.Empty(t, runner.recorded(), "engine must not be touched")
		})
	}
}

func TestNeuralEngineReceivesTranslatedCodes(t *testing.T) {
	runner := &fakeRunner{}
	a := NewAdapter(NewEasyOCR(Options{Runner: runner, GPU: false}))

	texts, err := a.Recognize(context.Background(), pages(1), "tha+eng", 300)
	require.NoError(t, err)
	assert.Equal(t, []string{"text"}, texts)

	calls := runner.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"/usr/bin/easyocr", "-l", "th", "en", "-f", "/tmp/page-1.png", "--detail", "0", "--gpu="}, calls[1])
}

func TestClassicalEngineReceivesJoinedSpec(t *testing.T) {
	runner := &fakeRunner{langs: "eng\ntha\nosd\n"}
	a := NewAdapter(NewTesseract(Options{Runner: runner, TessdataDir: "/data/tess"}))

	_, err := a.Recognize(context.Background(), pages(1), "th+en", 200)
	require.NoError(t, err)

	calls := runner.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"/usr/bin/tesseract", "--list-langs", "--tessdata-dir", "/data/tess"}, calls[1])
	assert.Equal(t, []string{"/usr/bin/tesseract", "/tmp/page-1.png", "stdout", "-l", "tha+eng", "--dpi", "200", "--tessdata-dir", "/data/tess"}, calls[2])
}

func TestMissingLanguageData(t *testing.T) {
	runner := &fakeRunner{langs: "eng\n"}
	a := NewAdapter(NewTesseract(Options{Runner: runner, TessdataDir: "/data/tess"}))

	_, err := a.Recognize(context.Background(), pages(1), "jpn", 300)
	assert.ErrorIs(t, err, model.ErrOCREngine)
	assert.Contains(t, err.Error(), `"jpn"`)
}

func TestMissingBinary(t *testing.T) {
	runner := &fakeRunner{missing: true}
	a := NewAdapter(NewEasyOCR(Options{Runner: runner}))

	_, err := a.Recognize(context.Background(), pages(1), "en", 300)
	assert.ErrorIs(t, err, model.ErrOCREngine)
}

func TestPageFailureAbortsDocument(t *testing.T) {
	runner := &fakeRunner{output: func(args []string) (string, error) {
		if strings.Contains(strings.Join(args, " "), "page-3") {
			return "", errors.New("exit status 1: segmentation fault")
		}
		return "ok", nil
	}}
	a := NewAdapter(NewEasyOCR(Options{Runner: runner}), WithWorkers(2))

	texts, err := a.Recognize(context.Background(), pages(4), "en", 300)
	assert.ErrorIs(t, err, model.ErrOCREngine)
	assert.Nil(t, texts)
}

func TestEmptyRecognitionIsAnError(t *testing.T) {
	runner := &fakeRunner{output: func([]string) (string, error) { return "  \n", nil }}
	a := NewAdapter(NewEasyOCR(Options{Runner: runner}))

	_, err := a.Recognize(context.Background(), pages(2), "en", 300)
	assert.ErrorIs(t, err, model.ErrOCREngine)
}

func TestResultsKeepPageOrder(t *testing.T) {
	runner := &fakeRunner{output: func(args []string) (string, error) {
		for _, a := range args {
			if strings.HasPrefix(a, "/tmp/page-") {
				return strings.TrimSuffix(strings.TrimPrefix(a, "/tmp/"), ".png"), nil
			}
		}
		return "", nil
	}}
	a := NewAdapter(NewEasyOCR(Options{Runner: runner}), WithWorkers(4))

	texts, err := a.Recognize(context.Background(), pages(8), "en", 300)
	require.NoError(t, err)
	for i, text := range texts {
		assert.Equal(t, fmt.Sprintf("page-%d", i+1), text)
	}
}

func TestGPUSerializesPages(t *testing.T) {
	runner := &fakeRunner{}
	a := NewAdapter(NewEasyOCR(Options{Runner: runner, GPU: true}), WithWorkers(8))

	_, err := a.Recognize(context.Background(), pages(6), "en", 300)
	require.NoError(t, err)
	assert.EqualValues(t, 1, runner.peak.Load())
}

func TestResolveTessdata(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }
	usable := func(dir string) bool { return dir == "/opt/homebrew/share/tessdata" }

	assert.Equal(t, "/x", ResolveTessdata("/x", getenv, usable))
	assert.Equal(t, "/opt/homebrew/share/tessdata", ResolveTessdata("", getenv, usable))

	env["TESSDATA_PREFIX"] = "/env/tessdata"
	assert.Equal(t, "/env/tessdata", ResolveTessdata("", getenv, usable))

	assert.Equal(t, "", ResolveTessdata("", func(string) string { return "" }, func(string) bool { return false }))
}

func TestRegistryAliases(t *testing.T) {
	r := DefaultRegistry()
	for name, want := range map[string]string{
		"classical": "tesseract",
		"tesseract": "tesseract",
		"neural":    "easyocr",
		"EasyOCR":   "easyocr",
	} {
		e, err := r.New(name, Options{})
		require.NoError(t, err)
		assert.Equal(t, want, e.Name())
	}

	_, err := r.New("paddle", Options{})
	assert.ErrorIs(t, err, model.ErrOCREngine)
	assert.Equal(t, []string{"classical", "neural"}, r.Names())
}
