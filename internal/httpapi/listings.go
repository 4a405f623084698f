package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
)

func paginationParams(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

type createListingRequest struct {
	Skill      string      `json:"skill"`
	PriceModel models.PriceModel `json:"priceModel"`
	BasePrice  models.Credits    `json:"basePrice"`
	Currency   string      `json:"currency"`
	SLA        *models.SLA `json:"sla,omitempty"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	sellerID := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	if actor.ID != sellerID {
		writeError(w, apperr.Authentication("agents may only create listings for themselves"))
		return
	}
	var req createListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := models.ValidateSkill(req.Skill); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	if err := models.ValidatePriceModel(req.PriceModel); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}
	if req.BasePrice <= 0 {
		writeError(w, apperr.Validation("basePrice must be positive"))
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	listing := &models.Listing{
		SellerID:   sellerID,
		Skill:      req.Skill,
		PriceModel: req.PriceModel,
		BasePrice:  req.BasePrice,
		Currency:   req.Currency,
		SLA:        req.SLA,
	}
	if err := s.store.CreateListing(r.Context(), listing); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	sellerID := r.URL.Query().Get("sellerId")
	listings, err := s.store.ListListings(r.Context(), sellerID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	listing, err := s.store.GetListing(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type updateListingRequest struct {
	PriceModel *models.PriceModel    `json:"priceModel,omitempty"`
	BasePrice  *models.Credits       `json:"basePrice,omitempty"`
	SLA        *models.SLA           `json:"sla,omitempty"`
	Status     *models.ListingStatus `json:"status,omitempty"`
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := agentFromContext(r.Context())
	listing, err := s.store.GetListing(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if listing.SellerID != actor.ID {
		writeError(w, apperr.Authentication("agents may only update their own listings"))
		return
	}
	var req updateListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PriceModel != nil {
		if err := models.ValidatePriceModel(*req.PriceModel); err != nil {
			writeError(w, apperr.Validation(err.Error()))
			return
		}
		listing.PriceModel = *req.PriceModel
	}
	if req.BasePrice != nil {
		if *req.BasePrice <= 0 {
			writeError(w, apperr.Validation("basePrice must be positive"))
			return
		}
		listing.BasePrice = *req.BasePrice
	}
	if req.SLA != nil {
		listing.SLA = req.SLA
	}
	if req.Status != nil {
		switch *req.Status {
		case models.ListingStatusActive, models.ListingStatusPaused, models.ListingStatusArchived:
			listing.Status = *req.Status
		default:
			writeError(w, apperr.Validation("invalid listing status"))
			return
		}
	}
	if err := s.store.UpdateListing(r.Context(), listing); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	skill := r.URL.Query().Get("skill")
	minReputation := 0.0
	if v := r.URL.Query().Get("minReputation"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			minReputation = f
		}
	}
	listings, err := s.store.DiscoverListings(r.Context(), skill, minReputation, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}
