package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/model"
	"github.com/okian/jobboard/internal/domain/timestamp"
)

// MsgJobCreated is returned with the id of a new job.
const MsgJobCreated = "Job created successfully with milestones in same collection"

// maxBodyBytes bounds REST request bodies.
const maxBodyBytes = 1 << 20

// JobsHandler serves the job REST routes.
type JobsHandler struct {
	store Store
	now   func() time.Time
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(store Store, now func() time.Time) *JobsHandler {
	return &JobsHandler{store: store, now: now}
}

type createJobResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type jobTitle struct {
	JobID    string `json:"job_id"`
	JobTitle any    `json:"job_title"`
}

// HandleCreate handles POST /api/jobs. The job and its mirrored job_id are
// written in one transaction.
func (h *JobsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_job"
	var payload map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", errkind.Wrap(op, ErrBadRequest, err))
		return
	}
	data, err := model.NewJobDocument(payload, h.now())
	if err != nil {
		writeKindError(w, err)
		return
	}

	var id string
	_, err = h.store.RunTransaction(r.Context(), func(_ context.Context, tx document.Tx) error {
		ref := tx.NewRef(model.CollectionJobs)
		data[model.JobFieldID] = ref.ID
		id = ref.ID
		return tx.Set(ref, data)
	})
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createJobResponse{ID: id, Message: MsgJobCreated})
}

// HandleGet handles GET /api/jobs/{id}.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.GetDoc(r.Context(), model.CollectionJobs, r.PathValue("id"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	rec := timestamp.NormalizeDocument(doc)
	if rec == nil {
		rec = map[string]any{}
	}
	rec[model.JobFieldID] = doc.ID
	writeJSON(w, http.StatusOK, rec)
}

// HandleList handles GET /api/jobs. With view=titles only ids and titles are
// returned.
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.Get(r.Context(), document.From(model.CollectionJobs))
	if err != nil {
		writeKindError(w, err)
		return
	}
	if r.URL.Query().Get("view") == "titles" {
		out := make([]jobTitle, 0, len(docs))
		for _, d := range docs {
			out = append(out, jobTitle{JobID: d.ID, JobTitle: d.Data[model.JobFieldTitle]})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rec := timestamp.NormalizeDocument(d)
		if rec == nil {
			rec = map[string]any{}
		}
		rec[model.JobFieldID] = d.ID
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, out)
}
