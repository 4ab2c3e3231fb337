package rag

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "matrag/internal/platform/log"
)

// ── 文本抽取（上游协作方，入库前置）───────────────────────────

// ExtractResult 文本抽取结果。抽取失败表现为"无可入库文本"，
// 不会污染后续分块。
type ExtractResult struct {
	Text       string
	Attributes map[string]string
}

// Extractor 从上传文件中抽取纯文本。
type Extractor interface {
	Extract(reader io.Reader, filename string) (*ExtractResult, error)
	Extensions() []string
}

// ── PDF ──────────────────────────────────────────────────────

// PDFExtractor 提取 PDF 内嵌文本（不做 OCR）。
type PDFExtractor struct{}

func (e *PDFExtractor) Extensions() []string {
	return []string{".pdf"}
}

func (e *PDFExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	// pdf 库需要 io.ReaderAt + size，先整体读入
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[RAG/Extract] PDF page skipped", "file", filename, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return &ExtractResult{
		Text: collapseNewlines(sb.String()),
		Attributes: map[string]string{
			"format": "pdf",
			"pages":  fmt.Sprintf("%d", pages),
		},
	}, nil
}

// ── DOCX ─────────────────────────────────────────────────────

// DOCXExtractor 提取 Word 文档文本。
type DOCXExtractor struct{}

var reDocxText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

func (e *DOCXExtractor) Extensions() []string {
	return []string{".docx"}
}

func (e *DOCXExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}

	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	// GetContent 返回文档 XML，取 <w:t> 文本节点
	content := r.Editable().GetContent()
	var sb strings.Builder
	for _, match := range reDocxText.FindAllStringSubmatch(content, -1) {
		text := html.UnescapeString(match[1])
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString(" ")
	}

	return &ExtractResult{
		Text:       strings.TrimSpace(sb.String()),
		Attributes: map[string]string{"format": "docx"},
	}, nil
}

// ── Markdown ─────────────────────────────────────────────────

// MarkdownExtractor 去除 Markdown 标记，保留正文。
type MarkdownExtractor struct{}

var (
	reMarkdownCode   = regexp.MustCompile("```[\\s\\S]*?```")
	reMarkdownInline = regexp.MustCompile("`([^`]+)`")
	reMarkdownImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reMarkdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMarkdownEmph   = regexp.MustCompile(`\*{1,2}([^*]+)\*{1,2}`)
	reMarkdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMarkdownHTML   = regexp.MustCompile(`<[^>]+>`)
)

func (e *MarkdownExtractor) Extensions() []string {
	return []string{".md", ".markdown"}
}

func (e *MarkdownExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}

	text := string(data)
	text = reMarkdownCode.ReplaceAllString(text, "")
	text = reMarkdownImage.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reMarkdownEmph.ReplaceAllString(text, "$1")
	text = reMarkdownInline.ReplaceAllString(text, "$1")
	text = reMarkdownHeader.ReplaceAllString(text, "")
	text = reMarkdownHTML.ReplaceAllString(text, "")

	return &ExtractResult{
		Text:       collapseNewlines(text),
		Attributes: map[string]string{"format": "markdown"},
	}, nil
}

// ── 纯文本 ───────────────────────────────────────────────────

// PlainTextExtractor 纯文本透传。
type PlainTextExtractor struct{}

func (e *PlainTextExtractor) Extensions() []string {
	return []string{".txt", ".text", ".csv", ".log"}
}

func (e *PlainTextExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return &ExtractResult{
		Text:       strings.TrimSpace(string(data)),
		Attributes: map[string]string{"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")},
	}, nil
}

var reMultiNewlines = regexp.MustCompile(`\n{3,}`)

func collapseNewlines(text string) string {
	return strings.TrimSpace(reMultiNewlines.ReplaceAllString(text, "\n\n"))
}
