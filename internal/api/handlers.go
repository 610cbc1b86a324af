package api

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/dispatcher"
	"github.com/imalyk/go-thumbnailer/internal/ratelimit"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

const (
	uploadField         = "file"
	multipartMemory     = 8 << 20
	defaultDeadLetters  = 100
	maxDeadLettersLimit = 1000
)

type Dispatcher interface {
	Admit(ctx context.Context, clientKey string) error
	Accept(ctx context.Context, up dispatcher.Upload) (*job.Submission, error)
	Status(ctx context.Context, id string) (*job.StatusView, error)
}

type DeadLetters interface {
	Len(ctx context.Context) (int64, error)
	List(ctx context.Context, offset, limit int64) ([]job.DeadLetterRecord, error)
}

type handler struct {
	dispatcher  Dispatcher
	deadLetters DeadLetters
	opts        Options
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	// Every attempt counts against the window, including malformed ones.
	key := clientKey(r, h.opts.TrustProxyHeaders)
	if err := h.dispatcher.Admit(r.Context(), key); err != nil {
		h.submitError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			renderError(w, r, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		renderError(w, r, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxUploadBytes+1))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "failed to read upload")
		return
	}
	if int64(len(data)) > h.opts.MaxUploadBytes {
		renderError(w, r, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	if len(data) == 0 {
		renderError(w, r, http.StatusBadRequest, "empty file")
		return
	}

	sub, err := h.dispatcher.Accept(r.Context(), dispatcher.Upload{
		ClientKey: key,
		Filename:  header.Filename,
		Data:      data,
	})
	if err != nil {
		h.submitError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	_ = render.Render(w, r, SubmissionReply{sub})
}

func (h *handler) submitError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		limited    *dispatcher.ErrRateLimited
		storageErr *dispatcher.ErrStorage
		queueErr   *dispatcher.ErrQueue
	)
	switch {
	case errors.As(err, &limited):
		secs := int64(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		render.Status(r, http.StatusTooManyRequests)
		_ = render.Render(w, r, ErrorReply{Error: "rate limit exceeded", RetryAfter: secs})
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		renderError(w, r, http.StatusServiceUnavailable, "rate limiter unavailable")
	case errors.As(err, &storageErr), errors.As(err, &queueErr):
		zap.S().Named("api").Errorw("upload failed", "error", err)
		renderError(w, r, http.StatusBadGateway, err.Error())
	default:
		zap.S().Named("api").Errorw("upload failed", "error", err)
		renderError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.dispatcher.Status(r.Context(), id)
	if err != nil {
		zap.S().Named("api").Errorw("status lookup failed", "job_id", id, "error", err)
		renderError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	_ = render.Render(w, r, StatusReply{view})
}

func (h *handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		renderError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultDeadLetters)
	if err != nil || limit < 1 || limit > maxDeadLettersLimit {
		renderError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	total, err := h.deadLetters.Len(r.Context())
	if err != nil {
		renderError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	items, err := h.deadLetters.List(r.Context(), offset, limit)
	if err != nil {
		renderError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	_ = render.Render(w, r, DeadLettersReply{Total: total, Offset: offset, Items: items})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Health(ctx); err != nil {
			render.Status(r, http.StatusServiceUnavailable)
			_ = render.Render(w, r, HealthReply{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	_ = render.Render(w, r, HealthReply{Status: "ok"})
}

func renderError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	_ = render.Render(w, r, ErrorReply{Error: msg})
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
