package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"matrag/internal/domain/rag"
	applog "matrag/internal/platform/log"
)

// RAGHandler 问答、检索与文档管理 API
type RAGHandler struct {
	lifecycle  *rag.Lifecycle
	retriever  *rag.Retriever
	answerer   *rag.Answerer
	assembler  *rag.Assembler
	store      rag.MetadataStore
	extractors *rag.ExtractorRegistry
	maxFileMB  int
}

// NewRAGHandler 创建处理器
func NewRAGHandler(
	lifecycle *rag.Lifecycle,
	retriever *rag.Retriever,
	answerer *rag.Answerer,
	assembler *rag.Assembler,
	store rag.MetadataStore,
	extractors *rag.ExtractorRegistry,
	maxFileMB int,
) *RAGHandler {
	if maxFileMB <= 0 {
		maxFileMB = 50
	}
	return &RAGHandler{
		lifecycle:  lifecycle,
		retriever:  retriever,
		answerer:   answerer,
		assembler:  assembler,
		store:      store,
		extractors: extractors,
		maxFileMB:  maxFileMB,
	}
}

// RegisterRoutes 注册路由
func (h *RAGHandler) RegisterRoutes(r chi.Router) {
	r.Route("/rag", func(r chi.Router) {
		r.Post("/ask", h.Ask)
		r.Post("/search", h.Search)
		r.Get("/suggestions", h.Suggestions)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.IngestDocument)
		r.Post("/upload", h.UploadDocument)
		r.Get("/", h.ListDocuments)
		r.Delete("/", h.RemoveAll)
		r.Get("/{id}", h.GetDocument)
		r.Delete("/{id}", h.DeleteDocument)
	})

	r.Get("/stats", h.Stats)
}

// ── 问答与检索 ──────────────────────────────────────────────

type askRequest struct {
	Question   string `json:"question"`
	Category   string `json:"category,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

func (h *RAGHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.answerer == nil {
		writeError(w, http.StatusServiceUnavailable, "answer generation not configured")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must not be negative")
		return
	}

	q := &rag.Query{
		Text:       req.Question,
		Category:   rag.QuestionCategory(req.Category),
		TopK:       req.TopK,
		DocumentID: req.DocumentID,
	}

	start := time.Now()
	answer, err := h.answerer.Ask(r.Context(), q)
	if err != nil {
		applog.Error("[API] Ask failed", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":     answer.Text,
		"sources":    answer.Sources,
		"confidence": answer.Confidence,
		"category":   answer.Category,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must not be negative")
		return
	}

	q := &rag.Query{
		Text:       req.Question,
		Category:   rag.QuestionCategory(req.Category),
		TopK:       req.TopK,
		DocumentID: req.DocumentID,
	}

	result, err := h.retriever.Retrieve(r.Context(), q)
	if err != nil {
		applog.Error("[API] Search failed", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *RAGHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"questions": h.assembler.SuggestedQuestions(),
	})
}

// ── 文档管理 ────────────────────────────────────────────────

type ingestRequest struct {
	ID         string            `json:"id,omitempty"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (h *RAGHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.lifecycle.AddDocument(r.Context(), req.ID, req.Text, req.Attributes)
	if err != nil {
		applog.Error("[API] IngestDocument failed", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// UploadDocument 文件上传入库（multipart/form-data）
func (h *RAGHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	limitBytes := int64(h.maxFileMB) << 20

	if err := r.ParseMultipartForm(limitBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > 0 && header.Size > limitBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds limit (%dMB)", h.maxFileMB))
		return
	}

	filename := header.Filename
	docID := r.FormValue("id")

	var text string
	attrs := map[string]string{"filename": filename}

	if h.extractors == nil {
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read file")
			return
		}
		text = string(data)
	} else {
		extractor, err := h.extractors.Get(filename)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s (supported: %s)", filepath.Ext(filename), h.extractors.Supported()))
			return
		}

		result, err := extractor.Extract(file, filename)
		if err != nil {
			applog.Error("[API] File extraction failed", "filename", filename, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to extract text from file")
			return
		}
		text = result.Text
		for k, v := range result.Attributes {
			attrs[k] = v
		}
	}

	if text == "" {
		writeError(w, http.StatusBadRequest, "no text content extracted from file")
		return
	}

	result, err := h.lifecycle.AddDocument(r.Context(), docID, text, attrs)
	if err != nil {
		applog.Error("[API] UploadDocument failed", "filename", filename, "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *RAGHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *RAGHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.store.GetDocument(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *RAGHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.lifecycle.RemoveDocument(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *RAGHandler) RemoveAll(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.RemoveAll(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *RAGHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lifecycle.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
