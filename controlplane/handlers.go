// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"axonflow/controlplane/deployment"
	"axonflow/controlplane/shared/logger"
)

// userIDHeader carries the caller identity established upstream. Identity
// establishment itself (OAuth, sessions) is outside the control plane.
const userIDHeader = "X-User-ID"

// Service owns the HTTP surface of the control plane.
type Service struct {
	router *Router
	store  *deployment.Store
	log    *logger.Logger
}

// NewService wraps a router and its record store with HTTP handlers.
func NewService(router *Router, store *deployment.Store) *Service {
	return &Service{
		router: router,
		store:  store,
		log:    logger.New("controlplane-api"),
	}
}

// Routes registers all API routes on r.
func (s *Service) Routes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/api/v1/deployments", s.handleSubmit).Methods("POST")
	r.HandleFunc("/api/v1/deployments", s.handleList).Methods("GET")
	r.HandleFunc("/api/v1/deployments/{id}", s.handleGet).Methods("GET")
	r.HandleFunc("/api/v1/deployments/{id}/logs", s.handleLogs).Methods("GET")
	r.HandleFunc("/api/v1/deployments/{id}/cancel", s.handleCancel).Methods("POST")
	r.HandleFunc("/api/v1/deployments/{id}", s.handleDelete).Methods("DELETE")
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "controlplane",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, NewAppError(CodeBadRequest, "invalid request body"))
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(userIDHeader)
	}
	if req.WorkloadName == "" {
		writeError(w, NewAppError(CodeBadRequest, "workload_name is required"))
		return
	}

	ack, err := s.router.Submit(r.Context(), req)
	if err != nil {
		appErr := classifyError(err)
		s.log.ErrorWithCode(req.UserID, "", "deployment submission rejected", appErr.HTTPStatus(), err, nil)
		writeError(w, appErr)
		return
	}

	writeJSON(w, http.StatusAccepted, ack)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, appErr := s.authorizedRecord(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	rec, appErr := s.authorizedRecord(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": rec.ID,
		"status":        rec.Status,
		"logs":          rec.Logs,
	})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		writeError(w, NewAppError(CodeNotAuthenticated, "caller identity is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployments": s.store.ListByUser(userID),
	})
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec, appErr := s.authorizedRecord(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	if err := s.router.Cancel(rec.ID); err != nil {
		writeError(w, classifyError(err))
		return
	}

	updated, _ := s.store.Get(rec.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": updated.ID,
		"status":        updated.Status,
	})
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	rec, appErr := s.authorizedRecord(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	err := s.store.Update(rec.ID, func(rc *deployment.Record) error {
		return rc.Transition(deployment.StatusDeleted)
	})
	if err != nil {
		writeError(w, classifyError(err))
		return
	}

	updated, _ := s.store.Get(rec.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": updated.ID,
		"status":        updated.Status,
	})
}

// authorizedRecord loads the record from the path and checks the caller owns
// it. A foreign record reads as not authorized, not as missing, so callers
// cannot probe for ids.
func (s *Service) authorizedRecord(r *http.Request) (*deployment.Record, *AppError) {
	id := mux.Vars(r)["id"]
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, NewAppError(CodeNotFound, "deployment not found")
	}

	caller := r.Header.Get(userIDHeader)
	if caller == "" {
		return nil, NewAppError(CodeNotAuthenticated, "caller identity is required")
	}
	if rec.UserID != caller {
		return nil, NewAppError(CodeNotAuthorized, "deployment belongs to another user")
	}
	return &rec, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, appErr *AppError) {
	writeJSON(w, appErr.HTTPStatus(), map[string]interface{}{
		"error": appErr,
	})
}
