package styles

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aymerick/douceur/parser"
	"github.com/bep/godartsass/v2"
	"github.com/gorilla/css/scanner"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ErrSassUnavailable is returned when a Sass source is compiled without a Dart Sass binary
var ErrSassUnavailable = eris.New("no Dart Sass binary available")

// Syntax identifies the language of a style sheet source
type Syntax int

const (
	SyntaxCSS Syntax = iota
	SyntaxSCSS
	SyntaxIndented
)

// Style is the output style of compiled CSS
type Style string

const (
	StyleExpanded   Style = "expanded"
	StyleCompressed Style = "compressed"
)

// ParseStyle validates a user supplied output style. An empty string selects the expanded style.
func ParseStyle(value string) (Style, error) {
	switch Style(value) {
	case "", StyleExpanded:
		return StyleExpanded, nil
	case StyleCompressed:
		return StyleCompressed, nil
	}
	return "", eris.Errorf("unknown output style %q (expected expanded or compressed)", value)
}

// SyntaxFor guesses the syntax based on the file extension
func SyntaxFor(path string) Syntax {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".scss":
		return SyntaxSCSS
	case ".sass":
		return SyntaxIndented
	default:
		return SyntaxCSS
	}
}

// Source is a single style sheet handed to a Compiler
type Source struct {
	Path    string
	Content string
	Syntax  Syntax
	Style   Style
}

// Compiler turns a style sheet source into plain CSS
type Compiler interface {
	Compile(ctx context.Context, src Source) (string, error)
	Close() error
}

// CompilerConfig configures NewCompiler
type CompilerConfig struct {
	Binary       string
	Timeout      time.Duration
	IncludePaths []string
}

// NewCompiler starts Dart Sass if the configured binary can be found. Otherwise it falls back to PlainCSS which
// only understands .css files.
func NewCompiler(ctx context.Context, cfg CompilerConfig) Compiler {
	logger := zerolog.Ctx(ctx)
	binary := cfg.Binary
	if binary == "" {
		binary = "sass"
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		logger.Warn().Str("binary", binary).Msg("Dart Sass not found, only plain CSS can be compiled (run fetch-deps to install it)")
		return PlainCSS{}
	}

	compiler, err := NewDartSass(path, cfg.Timeout, cfg.IncludePaths)
	if err != nil {
		logger.Warn().Err(err).Str("binary", path).Msg("failed to start Dart Sass, only plain CSS can be compiled")
		return PlainCSS{}
	}

	return compiler
}

// DartSass compiles sources through the embedded Dart Sass protocol
type DartSass struct {
	transpiler   *godartsass.Transpiler
	includePaths []string
}

// NewDartSass launches the passed binary in embedded mode
func NewDartSass(binary string, timeout time.Duration, includePaths []string) (*DartSass, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transpiler, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: binary,
		Timeout:                  timeout,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to start %s", binary)
	}

	return &DartSass{
		transpiler:   transpiler,
		includePaths: includePaths,
	}, nil
}

func (d *DartSass) Compile(ctx context.Context, src Source) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	args := godartsass.Args{
		Source:       src.Content,
		IncludePaths: append([]string{filepath.Dir(src.Path)}, d.includePaths...),
		OutputStyle:  godartsass.OutputStyleExpanded,
	}

	if src.Style == StyleCompressed {
		args.OutputStyle = godartsass.OutputStyleCompressed
	}

	switch src.Syntax {
	case SyntaxSCSS:
		args.SourceSyntax = godartsass.SourceSyntaxSCSS
	case SyntaxIndented:
		args.SourceSyntax = godartsass.SourceSyntaxSASS
	default:
		args.SourceSyntax = godartsass.SourceSyntaxCSS
	}

	result, err := d.transpiler.Execute(args)
	if err != nil {
		return "", eris.Wrapf(err, "failed to compile %s", src.Path)
	}

	return result.CSS, nil
}

func (d *DartSass) Close() error {
	return d.transpiler.Close()
}

// PlainCSS passes plain CSS through after making sure that it parses. It doesn't need any external tools.
type PlainCSS struct{}

func (PlainCSS) Compile(ctx context.Context, src Source) (string, error) {
	if src.Syntax != SyntaxCSS {
		return "", eris.Wrapf(ErrSassUnavailable, "can't compile %s", src.Path)
	}

	_, err := parser.Parse(src.Content)
	if err != nil {
		return "", eris.Wrapf(err, "failed to parse %s", src.Path)
	}

	// the parser accepts unclosed blocks which would swallow the rules of the next file in the bundle
	err = checkBlocks(src.Content)
	if err != nil {
		return "", eris.Wrapf(err, "failed to parse %s", src.Path)
	}

	return strings.TrimSpace(src.Content), nil
}

func (PlainCSS) Close() error {
	return nil
}

// checkBlocks makes sure every opened block is closed again. Braces inside strings and comments don't count.
func checkBlocks(content string) error {
	depth := 0
	tokens := scanner.New(content)
	for {
		token := tokens.Next()
		switch token.Type {
		case scanner.TokenEOF:
			if depth != 0 {
				return eris.Errorf("%d unclosed block(s)", depth)
			}
			return nil
		case scanner.TokenError:
			return eris.Errorf("line %d: %s", token.Line, token.Value)
		case scanner.TokenChar:
			switch token.Value {
			case "{":
				depth++
			case "}":
				depth--
				if depth < 0 {
					return eris.Errorf("line %d: unexpected }", token.Line)
				}
			}
		}
	}
}
