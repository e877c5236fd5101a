// Package jobs binds the job tracking endpoints.
package jobs

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ahrav/jobtracker/internal/api/errs"
	apptracking "github.com/ahrav/jobtracker/internal/app/tracking"
	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

// OwnerHeader carries the authenticated owner id set by the upstream gateway.
const OwnerHeader = "X-Owner-ID"

// maxBodyBytes bounds submission bodies, documents included.
const maxBodyBytes = 8 << 20

// Service is the job tracking surface the handlers need.
type Service interface {
	Submit(ctx context.Context, ownerID string, kind tracking.JobKind, input tracking.Input) (apptracking.Snapshot, error)
	Job(ctx context.Context, ownerID string, id uuid.UUID) (apptracking.Snapshot, error)
	Latest(ctx context.Context, ownerID string, kind tracking.JobKind) (apptracking.Snapshot, error)
	Cancel(ctx context.Context, ownerID string, id uuid.UUID) (apptracking.Snapshot, error)
	Retry(ctx context.Context, ownerID string, id uuid.UUID) (apptracking.Snapshot, error)
}

var _ Service = (*apptracking.Manager)(nil)

// Config contains the dependencies needed by the job handlers.
type Config struct {
	Log     *logger.Logger
	Service Service
}

// Routes binds all the job endpoints under /v1/jobs.
func Routes(r chi.Router, cfg Config) {
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", submit(cfg))
		r.Get("/latest", latest(cfg))
		r.Get("/{id}", getJob(cfg))
		r.Post("/{id}/cancel", cancel(cfg))
		r.Post("/{id}/retry", retry(cfg))
	})
}

// submitRequest is the payload for starting a job.
type submitRequest struct {
	Kind      string            `json:"kind" validate:"required,oneof=ai_training job_search"`
	URL       string            `json:"url,omitempty" validate:"omitempty,url"`
	Documents []documentRequest `json:"documents,omitempty" validate:"omitempty,dive"`
}

type documentRequest struct {
	Name    string `json:"name,omitempty" validate:"max=255"`
	Content string `json:"content" validate:"required"`
}

func (req submitRequest) input() tracking.Input {
	in := tracking.Input{URL: req.URL}
	for _, d := range req.Documents {
		in.Documents = append(in.Documents, tracking.Document{Name: d.Name, Content: d.Content})
	}
	return in
}

// submit handles the request to start a job. Input problems are reported
// before a missing owner.
func submit(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req submitRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			errs.Write(w, errs.New(errs.InvalidArgument, err))
			return
		}
		if err := errs.Check(req); err != nil {
			errs.Write(w, errs.New(errs.InvalidArgument, err))
			return
		}

		snap, err := cfg.Service.Submit(ctx, r.Header.Get(OwnerHeader), tracking.JobKind(req.Kind), req.input())
		if err != nil {
			fail(ctx, w, cfg.Log, "submit", err)
			return
		}

		respond(w, http.StatusAccepted, snap)
	}
}

// latest returns the owner's most recent job of the requested kind.
func latest(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		kind := tracking.ParseJobKind(r.URL.Query().Get("kind"))
		if !kind.Valid() {
			errs.Write(w, errs.Newf(errs.InvalidArgument, "unknown job kind %q", r.URL.Query().Get("kind")))
			return
		}

		snap, err := cfg.Service.Latest(ctx, owner, kind)
		if err != nil {
			fail(ctx, w, cfg.Log, "latest", err)
			return
		}
		respond(w, http.StatusOK, snap)
	}
}

func getJob(cfg Config) http.HandlerFunc {
	return byID(cfg, "get", cfg.Service.Job)
}

func cancel(cfg Config) http.HandlerFunc {
	return byID(cfg, "cancel", cfg.Service.Cancel)
}

func retry(cfg Config) http.HandlerFunc {
	return byID(cfg, "retry", cfg.Service.Retry)
}

type jobOp func(ctx context.Context, ownerID string, id uuid.UUID) (apptracking.Snapshot, error)

// byID adapts an operation on a single job addressed by the {id} parameter.
func byID(cfg Config, name string, op jobOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			errs.Write(w, errs.Newf(errs.InvalidArgument, "invalid job id %q", chi.URLParam(r, "id")))
			return
		}

		snap, err := op(ctx, owner, id)
		if err != nil {
			fail(ctx, w, cfg.Log, name, err)
			return
		}
		respond(w, http.StatusOK, snap)
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		errs.Write(w, errs.New(errs.Unauthenticated, tracking.ErrAuth))
		return "", false
	}
	return owner, true
}

func fail(ctx context.Context, w http.ResponseWriter, log *logger.Logger, op string, err error) {
	apiErr := errs.FromService(err)
	if apiErr.Code == errs.Internal {
		log.Error(ctx, "job request failed", "op", op, "error", err)
	} else {
		log.Debug(ctx, "job request rejected", "op", op, "code", apiErr.Code, "error", err)
	}
	errs.Write(w, apiErr)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
