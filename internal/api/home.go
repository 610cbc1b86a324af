package api

import (
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

//go:embed templates/index.html
var templates embed.FS

var homeTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

type homePage struct {
	Field  string
	MaxMiB int64
}

func (h *handler) home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := homePage{Field: uploadField, MaxMiB: h.opts.MaxUploadBytes >> 20}
	if err := homeTemplate.Execute(w, page); err != nil {
		zap.S().Named("api").Errorw("failed to render upload page", "error", err)
	}
}
