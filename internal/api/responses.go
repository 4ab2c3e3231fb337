package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"matrag/internal/domain/rag"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: message,
	})
}

// writeDomainError 领域错误到 HTTP 状态码的映射
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rag.ErrDocumentNotFound), errors.Is(err, rag.ErrChunkNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rag.ErrDuplicateDocument):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rag.ErrNoTextToIngest):
		writeError(w, http.StatusBadRequest, err.Error())
	case rag.IsConfigError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case rag.IsCapabilityError(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
