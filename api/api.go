// Package api serves the push review workflow over JSON: listing held
// pushes and authorising, rejecting or canceling them. Every mutation
// consults the guard before touching the store.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/crypto"
	"github.com/pushgate/pushgate/guard"
	"github.com/pushgate/pushgate/metrics"
	"github.com/pushgate/pushgate/models"
	"github.com/pushgate/pushgate/notify"
	"github.com/pushgate/pushgate/store"
)

type contextKey struct {
	name string
}

var userCtxKey = &contextKey{"user"}

// ForContext returns the authenticated username.
func ForContext(ctx context.Context) string {
	user, _ := ctx.Value(userCtxKey).(string)
	return user
}

// Handler is the review API.
type Handler struct {
	pushes   store.PushStore
	repos    store.RepoStore
	guard    *guard.Guard
	notifier *notify.Publisher
	logger   *log.Logger
}

// New assembles the API router.
func New(pushes store.PushStore, repos store.RepoStore, g *guard.Guard,
	notifier *notify.Publisher, logger *log.Logger) http.Handler {
	h := &Handler{
		pushes:   pushes,
		repos:    repos,
		guard:    g,
		notifier: notifier,
		logger:   logger,
	}

	router := chi.NewRouter()
	router.Use(h.authenticate)
	router.Get("/push", h.listPushes)
	router.Get("/push/{id}", h.getPush)
	router.Post("/push/{id}/authorise", h.authorisePush)
	router.Post("/push/{id}/reject", h.rejectPush)
	router.Post("/push/{id}/cancel", h.cancelPush)
	router.Get("/repo", h.listRepos)
	router.Post("/repo", h.addRepo)
	router.Delete("/repo/{name}", h.deleteRepo)
	router.Put("/repo/{name}/user/{role}/{username}", h.addRepoUser)
	router.Delete("/repo/{name}/user/{role}/{username}", h.removeRepoUser)
	return router
}

// authenticate resolves the bearer token to a username. Requests without
// a valid token never reach a handler.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		username, ok := crypto.VerifyToken(strings.TrimPrefix(auth, "Bearer "))
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey, strings.ToLower(username))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeStoreError maps store failures onto HTTP statuses: a missing id
// is a 404, anything else a 500.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.logger.Printf("storage error: %v", err)
	writeError(w, http.StatusInternalServerError, "storage error")
}

func (h *Handler) listPushes(w http.ResponseWriter, r *http.Request) {
	var query *models.PushQuery
	if len(r.URL.Query()) > 0 {
		q := models.PushQuery{
			Error:      r.URL.Query().Get("error") == "true",
			Blocked:    r.URL.Query().Get("blocked") == "true",
			AllowPush:  r.URL.Query().Get("allowPush") == "true",
			Authorised: r.URL.Query().Get("authorised") == "true",
		}
		query = &q
	}
	pushes, err := h.pushes.GetPushes(r.Context(), query)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if pushes == nil {
		pushes = []*models.Action{}
	}
	writeJSON(w, http.StatusOK, pushes)
}

func (h *Handler) getPush(w http.ResponseWriter, r *http.Request) {
	push, err := h.pushes.GetPush(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, push)
}

type authoriseRequest struct {
	Attestation struct {
		Questions []models.AttestationQuestion `json:"questions"`
	} `json:"attestation"`
}

func (h *Handler) authorisePush(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := ForContext(r.Context())

	ok, err := h.guard.CanUserApproveRejectPush(r.Context(), id, user)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "user is not permitted to authorise this push")
		return
	}

	var req authoriseRequest
	if r.Body != nil {
		// The attestation body is optional; a bare authorise carries no
		// checklist.
		json.NewDecoder(r.Body).Decode(&req)
	}

	att := &models.Attestation{
		ID:        uuid.New().String(),
		Reviewer:  models.Reviewer{Username: user},
		Timestamp: time.Now().UTC(),
		Questions: req.Attestation.Questions,
	}
	sig, err := crypto.SignAttestation(id, att.Reviewer, att.Timestamp)
	if err != nil {
		h.logger.Printf("Failed to sign attestation for push %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "attestation signing failed")
		return
	}
	att.Signature = sig

	push, err := h.pushes.Authorise(r.Context(), id, att)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Printf("Push %s authorised by %s", id, user)
	metrics.RecordReviewTransition("authorised")
	h.notifier.Publish(r.Context(), notify.EventPushAuthorised, push)
	writeJSON(w, http.StatusOK, push)
}

type rejectRequest struct {
	Rejection struct {
		Reason string `json:"reason"`
	} `json:"rejection"`
}

func (h *Handler) rejectPush(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := ForContext(r.Context())

	ok, err := h.guard.CanUserApproveRejectPush(r.Context(), id, user)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "user is not permitted to reject this push")
		return
	}

	var req rejectRequest
	var rejection *models.Rejection
	if r.Body != nil && json.NewDecoder(r.Body).Decode(&req) == nil && req.Rejection.Reason != "" {
		rejection = &models.Rejection{
			ID:        uuid.New().String(),
			Reviewer:  models.Reviewer{Username: user},
			Timestamp: time.Now().UTC(),
			Reason:    req.Rejection.Reason,
		}
	}

	push, err := h.pushes.Reject(r.Context(), id, rejection)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Printf("Push %s rejected by %s", id, user)
	metrics.RecordReviewTransition("rejected")
	h.notifier.Publish(r.Context(), notify.EventPushRejected, push)
	writeJSON(w, http.StatusOK, push)
}

func (h *Handler) cancelPush(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := ForContext(r.Context())

	push, err := h.pushes.GetPush(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	// Only the original pusher may cancel, and only if they hold push
	// rights on the repository.
	if !strings.EqualFold(push.User, user) {
		writeError(w, http.StatusForbidden, "only the pusher may cancel a push")
		return
	}
	ok, err := h.guard.CanUserCancelPush(r.Context(), id, user)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "user is not permitted to cancel this push")
		return
	}

	push, err = h.pushes.Cancel(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Printf("Push %s canceled by %s", id, user)
	metrics.RecordReviewTransition("canceled")
	h.notifier.Publish(r.Context(), notify.EventPushCanceled, push)
	writeJSON(w, http.StatusOK, push)
}

func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repos.GetRepos(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if repos == nil {
		repos = []*models.Repo{}
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *Handler) addRepo(w http.ResponseWriter, r *http.Request) {
	var repo models.Repo
	if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
		writeError(w, http.StatusBadRequest, "malformed repository record")
		return
	}
	if repo.Name == "" || repo.URL == "" {
		writeError(w, http.StatusBadRequest, "repository name and url are required")
		return
	}
	if err := h.repos.AddRepo(r.Context(), &repo); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Printf("Repository %s registered by %s", repo.Name, ForContext(r.Context()))
	writeJSON(w, http.StatusCreated, repo)
}

func (h *Handler) deleteRepo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.repos.DeleteRepo(r.Context(), name); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) editRepoUser(w http.ResponseWriter, r *http.Request, add bool) {
	name := chi.URLParam(r, "name")
	role := chi.URLParam(r, "role")
	username := chi.URLParam(r, "username")

	var err error
	switch {
	case role == "push" && add:
		err = h.repos.AddUserCanPush(r.Context(), name, username)
	case role == "push":
		err = h.repos.RemoveUserCanPush(r.Context(), name, username)
	case role == "authorise" && add:
		err = h.repos.AddUserCanAuthorise(r.Context(), name, username)
	case role == "authorise":
		err = h.repos.RemoveUserCanAuthorise(r.Context(), name, username)
	default:
		writeError(w, http.StatusBadRequest, "role must be push or authorise")
		return
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addRepoUser(w http.ResponseWriter, r *http.Request) {
	h.editRepoUser(w, r, true)
}

func (h *Handler) removeRepoUser(w http.ResponseWriter, r *http.Request) {
	h.editRepoUser(w, r, false)
}
