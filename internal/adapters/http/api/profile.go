package api

import (
	"net/http"

	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/model"
	"github.com/okian/jobboard/internal/domain/timestamp"
)

// MsgClientNotFound is returned for an unknown client profile.
const MsgClientNotFound = "Client not found!"

// fields never returned with a profile
var profileHidden = []string{"password", "createdAt"} //nolint:gochecknoglobals // fixed list

// ProfileHandler serves client profiles.
type ProfileHandler struct {
	store Store
}

// NewProfileHandler creates a profile handler.
func NewProfileHandler(store Store) *ProfileHandler {
	return &ProfileHandler{store: store}
}

type profileResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
}

// HandleGet handles GET /api/client/profile/{id}.
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.GetDoc(r.Context(), model.CollectionUsers, r.PathValue("id"))
	if err != nil {
		if errkind.KindOf(err) == errkind.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorResponse{Code: errkind.Label(err), Message: MsgClientNotFound})
			return
		}
		writeKindError(w, err)
		return
	}
	data := timestamp.NormalizeDocument(doc)
	if data == nil {
		data = map[string]any{}
	}
	for _, f := range profileHidden {
		delete(data, f)
	}
	writeJSON(w, http.StatusOK, profileResponse{Success: true, Data: data})
}
