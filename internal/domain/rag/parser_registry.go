package rag

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ExtractorRegistry 按扩展名查找文本抽取器。
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor // key = ".ext"
}

// NewExtractorRegistry 创建注册表并注册内置抽取器。
func NewExtractorRegistry() *ExtractorRegistry {
	r := &ExtractorRegistry{
		extractors: make(map[string]Extractor),
	}
	r.Register(&PDFExtractor{})
	r.Register(&DOCXExtractor{})
	r.Register(&MarkdownExtractor{})
	r.Register(&PlainTextExtractor{})
	return r
}

// Register 注册抽取器。
func (r *ExtractorRegistry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range e.Extensions() {
		r.extractors[strings.ToLower(ext)] = e
	}
}

// Get 按文件名取抽取器。
func (r *ExtractorRegistry) Get(filename string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, fmt.Errorf("no file extension in filename: %s", filename)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.extractors[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s (supported: %s)", ext, r.supportedLocked())
	}
	return e, nil
}

// Supported 返回全部支持的扩展名。
func (r *ExtractorRegistry) Supported() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supportedLocked()
}

// supportedLocked 需持有 r.mu（读或写均可）。
func (r *ExtractorRegistry) supportedLocked() string {
	exts := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
