package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"container-invoker/internal/core/functions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Invoker is the part of functions.Invoker the handler serves.
type Invoker interface {
	Invoke(ctx context.Context, request string, inputs map[string]any) (functions.Outcome, error)
	Invocations(ctx context.Context, limit int) ([]functions.InvocationRecord, error)
}

type Handler struct {
	inv Invoker
	lg  zerolog.Logger
}

// InvokeRequest is the body of POST /invocations.
type InvokeRequest struct {
	Function string         `json:"function" example:"fib:11"`
	Inputs   map[string]any `json:"inputs"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHandler(inv Invoker, lg zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &Handler{inv: inv, lg: lg.With().Str("component", "http").Logger()}

	r.Route("/invocations", func(r chi.Router) {
		r.Post("/", h.handleInvoke)
		r.Get("/", h.handleListInvocations)
	})
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	return r
}

// handleInvoke runs one function invocation to completion.
//
//	@Summary		Invoke a function
//	@Description	Runs the function on the requested provider and tears everything down before answering. Pipeline failures after the request was accepted are reported in the result object.
//	@Tags			invocations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		InvokeRequest	true	"Invocation"
//	@Success		200		{object}	functions.Outcome
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		501		{object}	ErrorResponse
//	@Router			/invocations [post]
func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json body"})
		return
	}
	if req.Function == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing 'function'"})
		return
	}

	out, err := h.inv.Invoke(r.Context(), req.Function, req.Inputs)
	if err != nil {
		h.lg.Error().Err(err).Str("function", req.Function).Msg("invoke")
		writeJSON(w, statusOf(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListInvocations lists the most recent invocations.
//
//	@Summary	List invocations
//	@Tags		invocations
//	@Produce	json
//	@Param		limit	query		int	false	"Maximum number of records"
//	@Success	200		{array}		functions.InvocationRecord
//	@Failure	400		{object}	ErrorResponse
//	@Failure	500		{object}	ErrorResponse
//	@Router		/invocations [get]
func (h *Handler) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	list, err := h.inv.Invocations(r.Context(), limit)
	if err != nil {
		h.lg.Error().Err(err).Msg("list invocations")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if list == nil {
		list = []functions.InvocationRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, functions.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, functions.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, functions.ErrUnsupportedProvider):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
