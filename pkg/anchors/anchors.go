// Package anchors turns section headings into links pointing at themselves so readers can copy a link to
// each section.
package anchors

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/vanbrabantf/sitebuild/pkg/fsutil"
	"github.com/vanbrabantf/sitebuild/pkg/globs"
)

var headings = map[atom.Atom]bool{
	atom.H2: true,
	atom.H3: true,
	atom.H4: true,
	atom.H5: true,
	atom.H6: true,
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// isSelfLink checks whether the heading already consists of a single link to its own id
func isSelfLink(node *html.Node, id string) bool {
	var link *html.Node
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode && strings.TrimSpace(child.Data) == "" {
			continue
		}
		if link != nil || child.Type != html.ElementNode || child.DataAtom != atom.A {
			return false
		}
		link = child
	}
	return link != nil && attr(link, "href") == "#"+id
}

// Apply rewrites every matching heading below root and returns the number of changed headings
func Apply(root *html.Node) int {
	changed := 0

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && headings[node.DataAtom] {
			id := attr(node, "id")
			if id != "" && !isSelfLink(node, id) {
				link := &html.Node{
					Type:     html.ElementNode,
					Data:     "a",
					DataAtom: atom.A,
					Attr:     []html.Attribute{{Key: "href", Val: "#" + id}},
				}

				for node.FirstChild != nil {
					child := node.FirstChild
					node.RemoveChild(child)
					link.AppendChild(child)
				}
				node.AppendChild(link)
				changed++
			}
			// headings can't contain other headings
			return
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}

	walk(root)
	return changed
}

// Rewrite parses a full HTML document from r and writes the rewritten document to w
func Rewrite(r io.Reader, w io.Writer) (int, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return 0, eris.Wrap(err, "failed to parse document")
	}

	changed := Apply(doc)
	err = html.Render(w, doc)
	if err != nil {
		return changed, eris.Wrap(err, "failed to render document")
	}
	return changed, nil
}

// RewriteFragment works like Rewrite but on a body fragment, i.e. `<h2 id="intro">Intro</h2>`
func RewriteFragment(fragment string) (string, error) {
	body := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", eris.Wrap(err, "failed to parse fragment")
	}

	buffer := bytes.Buffer{}
	for _, node := range nodes {
		Apply(node)
		err = html.Render(&buffer, node)
		if err != nil {
			return "", eris.Wrap(err, "failed to render fragment")
		}
	}
	return buffer.String(), nil
}

// RewriteFiles rewrites every HTML file matched by the absolute patterns in place. Files without matching
// headings aren't touched.
func RewriteFiles(ctx context.Context, patterns []string) (int, error) {
	logger := zerolog.Ctx(ctx)
	matches, err := globs.Expand(patterns, true)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		content, err := os.ReadFile(match.Path)
		if err != nil {
			return total, eris.Wrapf(err, "failed to read %s", match.Path)
		}

		buffer := bytes.Buffer{}
		changed, err := Rewrite(bytes.NewReader(content), &buffer)
		if err != nil {
			return total, eris.Wrapf(err, "failed to process %s", match.Path)
		}

		if changed == 0 {
			continue
		}

		err = fsutil.WriteAtomic(match.Path, 0o664, func(f *os.File) error {
			_, err := f.Write(buffer.Bytes())
			return err
		})
		if err != nil {
			return total, err
		}

		logger.Debug().Str("path", match.Path).Int("headings", changed).Msg("added anchors")
		total += changed
	}

	return total, nil
}
