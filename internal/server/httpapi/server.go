// Package httpapi exposes the file service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ompldr/server/internal/logging"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/services"
)

// FileAPI is what the handlers need from the file service.
type FileAPI interface {
	Upload(ctx context.Context, req services.UploadRequest) (*models.Invoice, error)
	Refresh(ctx context.Context, token string, params models.RefreshParams) (*models.Invoice, error)
	Quote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error)
	GetEncryptedFile(ctx context.Context, token string) (*services.Download, error)
	GetFile(ctx context.Context, token, privateKey string) (*services.Download, error)
	GetInfo(ctx context.Context, token string) (*models.FileInfo, error)
}

type HTTPServer struct {
	address string
	files   FileAPI
	logger  logging.Logger
	router  *gin.Engine
}

func NewHTTPServer(address string, logger logging.Logger, files FileAPI) *HTTPServer {
	s := &HTTPServer{
		address: address,
		files:   files,
		logger:  logger.With("module", "http_server"),
	}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ping", s.ping)

	v2 := r.Group("/v2")
	v2.GET("/info/:id", s.getInfo)
	v2.GET("/get/:id", s.getEncryptedFile)
	v2.GET("/get/:id/:privateKey", s.getFile)
	v2.PUT("/refresh/:id", s.refresh)
	v2.POST("/upload", s.upload)
	v2.POST("/quote", s.quote)

	return r
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
