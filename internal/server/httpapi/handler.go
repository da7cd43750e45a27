package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/server/models"
	"github.com/ompldr/server/internal/server/services"
)

const (
	msgNotFound   = "Not found"
	msgBadRequest = "That doesn't look right to me."
	msgInternal   = "Internal error"
)

type response struct {
	Message string `json:"message"`
}

// writeError collapses every failure into 404, 400 or 500. Malformed and
// unknown tokens both land on 404.
func (s *HTTPServer) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrInvalidToken):
		c.JSON(http.StatusNotFound, response{Message: msgNotFound})
	case errors.Is(err, common.ErrorBadRequest):
		c.JSON(http.StatusBadRequest, response{Message: msgBadRequest})
	default:
		s.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, response{Message: msgInternal})
	}
}

func (s *HTTPServer) ping(c *gin.Context) {
	c.Header("Cache-Control", "max-age=100")
	c.String(http.StatusOK, "pong\n")
}

func (s *HTTPServer) getInfo(c *gin.Context) {
	info, err := s.files.GetInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "max-age=1")
	c.JSON(http.StatusOK, info)
}

func (s *HTTPServer) getEncryptedFile(c *gin.Context) {
	dl, err := s.files.GetEncryptedFile(c.Request.Context(), c.Param("id"))
	s.stream(c, dl, err)
}

func (s *HTTPServer) getFile(c *gin.Context) {
	dl, err := s.files.GetFile(c.Request.Context(), c.Param("id"), c.Param("privateKey"))
	s.stream(c, dl, err)
}

func (s *HTTPServer) stream(c *gin.Context, dl *services.Download, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer dl.Body.Close()

	c.DataFromReader(http.StatusOK, -1, dl.Info.ContentType, dl.Body, map[string]string{
		"Cache-Control": "max-age=86400",
	})
}

func (s *HTTPServer) refresh(c *gin.Context) {
	var params models.RefreshParams
	if err := c.ShouldBindJSON(&params); err != nil {
		s.writeError(c, common.ErrorBadRequest)
		return
	}

	inv, err := s.files.Refresh(c.Request.Context(), c.Param("id"), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *HTTPServer) quote(c *gin.Context) {
	var req models.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, common.ErrorBadRequest)
		return
	}

	q, err := s.files.Quote(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func formInt(c *gin.Context, name string) (int64, error) {
	v := c.PostForm(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *HTTPServer) upload(c *gin.Context) {
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		c.JSON(http.StatusBadRequest, response{Message: "Expected multipart form"})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.writeError(c, common.ErrorBadRequest)
		return
	}
	downloads, err := formInt(c, "downloadCount")
	if err != nil {
		s.writeError(c, common.ErrorBadRequest)
		return
	}
	expires, err := formInt(c, "expiresAfterSeconds")
	if err != nil {
		s.writeError(c, common.ErrorBadRequest)
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer f.Close()

	inv, err := s.files.Upload(c.Request.Context(), services.UploadRequest{
		Body:                f,
		FileName:            fh.Filename,
		ContentType:         fh.Header.Get("Content-Type"),
		DownloadCount:       downloads,
		ExpiresAfterSeconds: expires,
		PrivateKey:          c.PostForm("privateKey"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
