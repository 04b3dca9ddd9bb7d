package kb

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/cjcelaya/mindgate/pkg/kberr"
)

// typeByPrefix maps top-level corpus directories to document types. Unknown
// prefixes fall back to documentation.
var typeByPrefix = map[string]DocumentType{
	"CORE":               TypeDocumentation,
	"BIO":                TypeDocumentation,
	"EXPERTISE":          TypeDocumentation,
	"COMMUNICATION":      TypeDocumentation,
	"PROJECTS":           TypeProject,
	"CELAYA_SOLUTIONS":   TypeProject,
	"MUSIC":              TypeProject,
	"PHILOSOPHY":         TypePhilosophy,
	"COGNITIVE_PATTERNS": TypeResearch,
	"RESEARCH":           TypeResearch,
	"MENTAL_ARTIFACTS":   TypeResearch,
}

// tagKeywords are matched case-insensitively against the document body.
var tagKeywords = []string{
	"clos", "neural", "cognitive", "ai", "research", "flow",
	"optimization", "architecture", "agent", "chess", "artifact",
	"music", "production", "systems", "learning",
}

// Parser turns Markdown files into Documents.
type Parser struct {
	md goldmark.Markdown
}

func NewParser() *Parser {
	return &Parser{md: goldmark.New()}
}

// Discover walks root recursively and returns paths of all .md files,
// relative to root, in lexical order.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover markdown files in %s: %w", root, err)
	}
	return paths, nil
}

// ParseFile reads and parses one file. relPath is the path relative to the
// corpus root; it drives type inference and folder tags.
func (p *Parser) ParseFile(root, relPath string) (*Document, error) {
	raw, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return p.Parse(relPath, raw)
}

// Parse parses raw Markdown content into a Document. Malformed front matter
// fails the single file with a ParseFailure; the caller continues with the
// remaining files.
func (p *Parser) Parse(relPath string, raw []byte) (*Document, error) {
	fm, body, err := splitFrontMatter(raw)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindParseFailure,
			fmt.Sprintf("malformed front matter in %s", relPath), err)
	}

	doc := &Document{
		Path:        relPath,
		Content:     string(body),
		FrontMatter: map[string]any{},
	}

	for key, value := range fm {
		switch key {
		case "title":
			if s, ok := value.(string); ok {
				doc.Title = s
			}
		case "type":
			if s, ok := value.(string); ok {
				doc.Type = DocumentType(s)
			}
		case "tags":
			doc.Tags = toStringSlice(value)
		case "date":
			doc.Created = parseDate(value)
		default:
			doc.FrontMatter[key] = value
		}
	}

	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
	}
	if doc.Type == "" {
		doc.Type = inferType(relPath)
	}
	doc.Tags = mergeTags(doc.Tags, folderTags(relPath), bodyTags(string(body)))

	doc.Sections = p.parseSections(body)
	return doc, nil
}

// parseSections walks the Markdown AST. Every heading closes the current
// section and opens a new one; body text between headings is kept verbatim
// so fenced code blocks survive intact. Headings inside code fences are not
// AST headings and never split a section.
func (p *Parser) parseSections(body []byte) []Section {
	root := p.md.Parser().Parse(text.NewReader(body))

	type headingMark struct {
		heading   string
		level     int
		lineStart int // byte offset of the heading line
		bodyStart int // byte offset just past the heading line
	}

	var marks []headingMark
	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		h, ok := node.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		marks = append(marks, headingMark{
			heading:   inlineText(h, body),
			level:     h.Level,
			lineStart: lineStartBefore(body, seg.Start),
			bodyStart: lineEndAfter(body, seg.Stop),
		})
	}

	if len(marks) == 0 {
		content := strings.TrimSpace(string(body))
		if content == "" {
			return nil
		}
		return []Section{{Heading: "Main Content", Content: content}}
	}

	var sections []Section

	// Preamble before the first heading belongs to a synthetic section.
	if pre := strings.TrimSpace(string(body[:marks[0].lineStart])); pre != "" {
		sections = append(sections, Section{Heading: "Main Content", Content: pre})
	}

	for i, mark := range marks {
		end := len(body)
		if i+1 < len(marks) {
			end = marks[i+1].lineStart
		}
		sections = append(sections, Section{
			Heading: mark.heading,
			Level:   mark.level,
			Content: strings.TrimSpace(string(body[mark.bodyStart:end])),
		})
	}
	return sections
}

// inlineText concatenates the text of a node's inline children. Inline code
// is wrapped back in backticks to preserve attribution in headings.
func inlineText(parent ast.Node, src []byte) string {
	var sb strings.Builder
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Text:
			sb.Write(n.Segment.Value(src))
		case *ast.CodeSpan:
			sb.WriteByte('`')
			sb.WriteString(inlineText(n, src))
			sb.WriteByte('`')
		default:
			sb.WriteString(inlineText(child, src))
		}
	}
	return strings.TrimSpace(sb.String())
}

func lineStartBefore(src []byte, offset int) int {
	if offset > len(src) {
		offset = len(src)
	}
	if idx := bytes.LastIndexByte(src[:offset], '\n'); idx >= 0 {
		return idx + 1
	}
	return 0
}

func lineEndAfter(src []byte, offset int) int {
	if idx := bytes.IndexByte(src[offset:], '\n'); idx >= 0 {
		return offset + idx + 1
	}
	return len(src)
}

// splitFrontMatter separates a leading YAML block delimited by --- lines.
func splitFrontMatter(raw []byte) (map[string]any, []byte, error) {
	const delim = "---"

	content := string(raw)
	if !strings.HasPrefix(content, delim+"\n") && !strings.HasPrefix(content, delim+"\r\n") {
		return nil, raw, nil
	}

	rest := content[strings.Index(content, "\n")+1:]
	endIdx := -1
	for _, marker := range []string{"\n" + delim + "\n", "\n" + delim + "\r\n"} {
		if idx := strings.Index(rest, marker); idx >= 0 {
			endIdx = idx
			break
		}
	}
	if endIdx == -1 {
		if strings.HasSuffix(rest, "\n"+delim) {
			endIdx = len(rest) - len(delim) - 1
			rest = rest[:endIdx] + "\n"
		} else {
			return nil, nil, fmt.Errorf("unterminated front matter block")
		}
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(rest[:endIdx]), &fm); err != nil {
		return nil, nil, err
	}

	body := rest[endIdx:]
	if idx := strings.Index(body[1:], "\n"); idx >= 0 {
		body = body[idx+2:]
	} else {
		body = ""
	}
	return fm, []byte(body), nil
}

func inferType(relPath string) DocumentType {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) > 1 {
		if t, ok := typeByPrefix[strings.ToUpper(parts[0])]; ok {
			return t
		}
	}
	return TypeDocumentation
}

// folderTags normalizes directory tokens: lowercased, separators replaced
// with spaces.
func folderTags(relPath string) []string {
	var tags []string
	parts := strings.Split(filepath.ToSlash(filepath.Dir(relPath)), "/")
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		tag := strings.ToLower(part)
		tag = strings.NewReplacer("_", " ", "-", " ").Replace(tag)
		tags = append(tags, tag)
	}
	return tags
}

func bodyTags(body string) []string {
	lower := strings.ToLower(body)
	var tags []string
	for _, kw := range tagKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, kw)
		}
	}
	return tags
}

func mergeTags(groups ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, group := range groups {
		for _, tag := range group {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case []string:
		return v
	case string:
		fields := strings.Split(v, ",")
		out := make([]string, 0, len(fields))
		for _, f := range fields {
			if t := strings.TrimSpace(f); t != "" {
				out = append(out, t)
			}
		}
		return out
	default:
		return nil
	}
}

func parseDate(value any) time.Time {
	switch v := value.(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
