package api

import (
	"net/http"

	"github.com/imalyk/go-thumbnailer/pkg/job"
)

type SubmissionReply struct {
	*job.Submission
}

type StatusReply struct {
	*job.StatusView
}

type DeadLettersReply struct {
	Total  int64                  `json:"total"`
	Offset int64                  `json:"offset"`
	Items  []job.DeadLetterRecord `json:"items"`
}

type HealthReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ErrorReply struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

func (s SubmissionReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (s StatusReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (d DeadLettersReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (h HealthReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (e ErrorReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}
