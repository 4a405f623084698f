package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
)

type createReviewRequest struct {
	Rating  int                 `json:"rating"`
	Role    models.ReviewRole   `json:"role"`
	Tags    []string            `json:"tags,omitempty"`
	Comment string              `json:"comment,omitempty"`
}

// handleCreateReview implements POST /jobs/{id}/reviews: either party to a
// reviewable job may leave one rating of the other side, which immediately
// recomputes the subject's reputation average.
func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if actor.ID != job.ClientID && actor.ID != job.SellerID {
		writeError(w, apperr.Authentication("agent is not a party to this job"))
		return
	}
	if !models.JobIsReviewable(job.Status) {
		writeError(w, apperr.StateConflict("job is "+string(job.Status)+", not reviewable"))
		return
	}

	var req createReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := models.ValidateRating(req.Rating); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	if err := models.ValidateReviewRole(req.Role); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}

	var subjectID string
	switch {
	case req.Role == models.ReviewRoleClientReviewingSeller && actor.ID == job.ClientID:
		subjectID = job.SellerID
	case req.Role == models.ReviewRoleSellerReviewingClient && actor.ID == job.SellerID:
		subjectID = job.ClientID
	default:
		writeError(w, apperr.Validation("review role does not match reviewer's side of the job"))
		return
	}

	review := &models.Review{
		JobID:      jobID,
		ReviewerID: actor.ID,
		Rating:     req.Rating,
		Role:       req.Role,
		Tags:       req.Tags,
		Comment:    req.Comment,
	}
	if err := s.store.CreateReview(r.Context(), review); err != nil {
		writeError(w, err)
		return
	}

	avg, _, err := s.store.AverageRating(r.Context(), subjectID, req.Role)
	if err == nil {
		if req.Role == models.ReviewRoleClientReviewingSeller {
			_ = s.store.UpdateReputation(r.Context(), subjectID, &avg, nil)
		} else {
			_ = s.store.UpdateReputation(r.Context(), subjectID, nil, &avg)
		}
	}

	writeJSON(w, http.StatusCreated, review)
}

func (s *Server) handleListJobReviews(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	reviews, err := s.store.ListReviewsForJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleListAgentReviews(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	role := models.ReviewRole(r.URL.Query().Get("role"))
	if role == "" {
		role = models.ReviewRoleClientReviewingSeller
	}
	if err := models.ValidateReviewRole(role); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	avg, count, err := s.store.AverageRating(r.Context(), agentID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId":       agentID,
		"role":          role,
		"averageRating": avg,
		"count":         count,
	})
}
