package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"matrag/internal/domain/rag"
	applog "matrag/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string // JWT 签名密钥（必填）
	JWTIssuer    string // JWT 签发者（可选）
	MaxFileMB    int
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute, // 生成式问答需要较长写超时
		MaxFileMB:    50,
	}
}

// Server HTTP 服务器
type Server struct {
	config     *ServerConfig
	lifecycle  *rag.Lifecycle
	retriever  *rag.Retriever
	answerer   *rag.Answerer
	assembler  *rag.Assembler
	store      rag.MetadataStore
	extractors *rag.ExtractorRegistry
	httpSrv    *http.Server
}

// NewServer 创建服务器
func NewServer(
	config *ServerConfig,
	lifecycle *rag.Lifecycle,
	retriever *rag.Retriever,
	assembler *rag.Assembler,
	store rag.MetadataStore,
) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:     config,
		lifecycle:  lifecycle,
		retriever:  retriever,
		assembler:  assembler,
		store:      store,
		extractors: rag.NewExtractorRegistry(),
	}
}

// SetAnswerer 设置生成式问答组件（可选，仅在生成后端配置时启用）
func (s *Server) SetAnswerer(answerer *rag.Answerer) {
	s.answerer = answerer
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Retrieval API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	ragHandler := NewRAGHandler(s.lifecycle, s.retriever, s.answerer, s.assembler, s.store, s.extractors, s.config.MaxFileMB)

	jwtCfg := &JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	}
	authMW := authMiddleware(jwtCfg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			ragHandler.RegisterRoutes(r)
		})
	})

	if s.answerer != nil {
		applog.Info("📚 Generative answering enabled")
	}
	return r, nil
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
