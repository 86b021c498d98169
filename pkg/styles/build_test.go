package styles

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/aymerick/douceur/parser"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompiler struct {
	lock  sync.Mutex
	seen  []string
	fails string
}

func (c *fakeCompiler) Compile(ctx context.Context, src Source) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.seen = append(c.seen, filepath.Base(src.Path))
	if c.fails != "" && filepath.Base(src.Path) == c.fails {
		return "", eris.Errorf("%s: expected \"{\"", src.Path)
	}

	stem := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	return "." + stem + " {\n  color: red;\n}", nil
}

func (c *fakeCompiler) Close() error {
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func selectors(t *testing.T, css string) []string {
	t.Helper()
	sheet, err := parser.Parse(css)
	require.NoError(t, err)

	result := make([]string, 0, len(sheet.Rules))
	for _, rule := range sheet.Rules {
		result = append(result, strings.Join(rule.Selectors, ", "))
	}
	sort.Strings(result)
	return result
}

func TestBuildConcatenatesAllSources(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "_sass", "a.scss"), "$c: red; .a { color: $c; }")
	writeFile(t, filepath.Join(root, "_sass", "sub", "b.css"), ".b { color: red; }")
	writeFile(t, filepath.Join(root, "_sass", "_vars.scss"), "$c: red;")

	compiler := &fakeCompiler{}
	result, err := Build(context.Background(), Options{
		Sources:  []string{filepath.Join(root, "_sass", "**", "*.{scss,css}")},
		Dest:     filepath.Join(root, "assets", "css"),
		Compiler: compiler,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "assets", "css", "style.css"), result.Output)
	assert.ElementsMatch(t, []string{"a.scss", "b.css"}, compiler.seen)

	entries, err := os.ReadDir(filepath.Join(root, "assets", "css"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(result.Output)
	require.NoError(t, err)
	assert.Equal(t, []string{".a", ".b"}, selectors(t, string(data)))
}

func TestBuildKeepsOldBundleOnFailure(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "out")
	writeFile(t, filepath.Join(root, "src", "a.css"), ".a {}")
	writeFile(t, filepath.Join(root, "src", "b.css"), ".b {")
	writeFile(t, filepath.Join(dest, "style.css"), "/* previous */")

	_, err := Build(context.Background(), Options{
		Sources:  []string{filepath.Join(root, "src", "*.css")},
		Dest:     dest,
		Compiler: &fakeCompiler{fails: "b.css"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.css")

	data, err := os.ReadFile(filepath.Join(dest, "style.css"))
	require.NoError(t, err)
	assert.Equal(t, "/* previous */", string(data))
}

func TestBuildPrecompress(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "main.css"), ".main { margin: 0; }")

	result, err := Build(context.Background(), Options{
		Sources:     []string{filepath.Join(root, "src", "*.css")},
		Dest:        filepath.Join(root, "out"),
		Bundle:      "site.css",
		Precompress: true,
		Compiler:    PlainCSS{},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "out", "site.css.br"), result.Precompressed)

	plain, err := os.ReadFile(result.Output)
	require.NoError(t, err)

	compressed, err := os.ReadFile(result.Precompressed)
	require.NoError(t, err)

	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
	require.NoError(t, err)
	assert.Equal(t, plain, decoded)
}

func TestBuildEmptySourceSet(t *testing.T) {
	root := t.TempDir()

	result, err := Build(context.Background(), Options{
		Sources:  []string{filepath.Join(root, "missing", "**", "*.css")},
		Dest:     filepath.Join(root, "out"),
		Compiler: PlainCSS{},
	})
	require.NoError(t, err)
	assert.Zero(t, result.Size)
	assert.FileExists(t, result.Output)
}

func TestPlainCSS(t *testing.T) {
	css, err := PlainCSS{}.Compile(context.Background(), Source{
		Path:    "b.css",
		Content: "h1, h2 { color: blue }\n.x { margin: 0 auto; }",
		Syntax:  SyntaxCSS,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".x", "h1, h2"}, selectors(t, css))

	_, err = PlainCSS{}.Compile(context.Background(), Source{Path: "a.scss", Syntax: SyntaxSCSS})
	assert.True(t, eris.Is(err, ErrSassUnavailable))
}

func TestPlainCSSRejectsUnbalancedBlocks(t *testing.T) {
	for _, content := range []string{"a { color: red", "@media screen { ", "a { color: red; } }"} {
		_, err := PlainCSS{}.Compile(context.Background(), Source{Path: "broken.css", Content: content, Syntax: SyntaxCSS})
		assert.Error(t, err, content)
	}

	css, err := PlainCSS{}.Compile(context.Background(), Source{
		Path:    "quoted.css",
		Content: `a::before { content: "{"; } /* } */`,
		Syntax:  SyntaxCSS,
	})
	require.NoError(t, err)
	assert.Contains(t, css, `content: "{"`)
}

func TestParseStyle(t *testing.T) {
	style, err := ParseStyle("")
	require.NoError(t, err)
	assert.Equal(t, StyleExpanded, style)

	style, err = ParseStyle("compressed")
	require.NoError(t, err)
	assert.Equal(t, StyleCompressed, style)

	_, err = ParseStyle("nested")
	assert.Error(t, err)
}

func TestIsPartial(t *testing.T) {
	assert.True(t, IsPartial("/site/_sass/_base.scss"))
	assert.False(t, IsPartial("/site/_sass/main.scss"))
}

func TestDartSassBuild(t *testing.T) {
	binary, err := exec.LookPath("sass")
	if err != nil {
		t.Skip("Dart Sass is not installed")
	}

	compiler, err := NewDartSass(binary, 0, nil)
	if err != nil {
		t.Skipf("sass binary doesn't support the embedded protocol: %v", err)
	}
	defer compiler.Close()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "_sass", "_colors.scss"), "$accent: #c00;")
	writeFile(t, filepath.Join(root, "_sass", "a.scss"), "@import 'colors';\n.nav { a { color: $accent; } }")
	writeFile(t, filepath.Join(root, "_sass", "b.css"), ".b { color: red; }")

	result, err := Build(context.Background(), Options{
		Sources:  []string{filepath.Join(root, "_sass", "**", "*.{scss,css}")},
		Dest:     filepath.Join(root, "assets", "css"),
		Compiler: compiler,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(result.Output)
	require.NoError(t, err)
	assert.Equal(t, []string{".b", ".nav a"}, selectors(t, string(data)))
}
