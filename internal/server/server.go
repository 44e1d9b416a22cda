package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/ligustah/portal/pkg/portal"
	"github.com/ligustah/portal/pkg/upload"
)

// Options configures the HTTP handler.
type Options struct {
	// MaxChunkSize limits the body of a chunk upload.
	// Default: 64 MiB
	MaxChunkSize int64

	Logger zerolog.Logger
}

// Option is a functional option for configuring the handler.
type Option func(*Options)

// WithMaxChunkSize sets the largest accepted chunk body.
func WithMaxChunkSize(n int64) Option {
	return func(o *Options) {
		o.MaxChunkSize = n
	}
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// multipartOverhead is allowed on top of MaxChunkSize for the legacy form
// fields and part headers.
const multipartOverhead = 1 << 20

// Server binds a portal.Service to HTTP.
type Server struct {
	svc    *portal.Service
	opts   Options
	router chi.Router
}

// New creates the HTTP handler for svc.
func New(svc *portal.Service, options ...Option) *Server {
	opts := Options{
		MaxChunkSize: 64 << 20,
		Logger:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(&opts)
	}

	s := &Server{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/list", s.handleList)
		r.Post("/uploads", s.handleStartUpload)
		r.Get("/uploads/{id}", s.handleUploadStatus)
		r.Delete("/uploads/{id}", s.handleAbortUpload)
		r.Put("/uploads/{id}/chunks/{index}", s.handleUploadChunk)
	})

	r.Post("/start_upload", s.handleLegacyStartUpload)
	r.Post("/upload_chunk", s.handleLegacyUploadChunk)
	r.Get("/download/*", s.handleDownload)
	r.Get("/download_zip/*", s.handleDownloadZip)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func accessLog(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("took", d).
		Msg("request")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	l, err := s.svc.List(r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type startUploadRequest struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Chunks   int    `json:"chunks"`
}

func (s *Server) decodeStart(w http.ResponseWriter, r *http.Request) (startUploadRequest, bool) {
	var req startUploadRequest
	r.Body = http.MaxBytesReader(w, r.Body, multipartOverhead)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode body: %w", portal.ErrInvalidRequest, err))
		return req, false
	}
	return req, true
}

func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStart(w, r)
	if !ok {
		return
	}
	id, err := s.svc.StartUpload(r.Context(), req.Filename, req.Filesize, req.Chunks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.svc.UploadStatus(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.UploadStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.AbortUpload(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: chunk index %q", portal.ErrInvalidRequest, chi.URLParam(r, "index")))
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.opts.MaxChunkSize)
	status, err := s.svc.UploadChunk(r.Context(), chi.URLParam(r, "id"), index, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleLegacyStartUpload(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStart(w, r)
	if !ok {
		return
	}
	id, err := s.svc.StartUpload(r.Context(), req.Filename, req.Filesize, req.Chunks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleLegacyUploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxChunkSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", portal.ErrInvalidRequest, err))
		return
	}

	// Form fields precede the chunk so the chunk can be streamed.
	fields := make(map[string]string, 2)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			s.writeError(w, r, fmt.Errorf("%w: missing chunk", portal.ErrInvalidRequest))
			return
		}
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %w", portal.ErrInvalidRequest, err))
			return
		}

		if part.FormName() != "chunk" {
			v, err := io.ReadAll(io.LimitReader(part, 1024))
			part.Close()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			fields[part.FormName()] = string(v)
			continue
		}

		index, err := strconv.Atoi(fields["chunk_num"])
		if err != nil {
			part.Close()
			s.writeError(w, r, fmt.Errorf("%w: chunk_num %q", portal.ErrInvalidRequest, fields["chunk_num"]))
			return
		}

		status, err := s.svc.UploadChunk(r.Context(), fields["session_id"], index, part)
		part.Close()
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		legacy := "chunk_received"
		if status == upload.StatusComplete {
			legacy = "complete"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": legacy})
		return
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.DownloadFile(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	serveDownload(w, r, d)
}

func (s *Server) handleDownloadZip(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.DownloadDirectoryArchive(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	serveDownload(w, r, d)
}

func serveDownload(w http.ResponseWriter, r *http.Request, d *portal.Download) {
	defer d.File.Close()

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	http.ServeContent(w, r, d.Name, d.ModTime, d.File)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError

	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &tooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, portal.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, portal.ErrInvalidRequest):
		code = http.StatusBadRequest
	}

	ev := hlog.FromRequest(r).Debug()
	if code == http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).Int("status", code).Msg("request failed")

	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
