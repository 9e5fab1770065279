package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"palaver/internal/auth"
	"palaver/internal/filestore"
	"palaver/internal/models"
	"palaver/internal/router"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type API struct {
	auth   *auth.AuthService
	router *router.Router
	files  filestore.FileStore
}

func New(authService *auth.AuthService, rt *router.Router, files filestore.FileStore) *API {
	return &API{
		auth:   authService,
		router: rt,
		files:  files,
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the caller's identity and passes it to the
// wrapped handler.
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.Identity(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		slog.Error("internal error", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp := a.auth.Login(req)
	if !resp.Success {
		writeJSON(w, http.StatusUnauthorized, resp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

// conversationFromRequest translates the wire-level {id, isGroup}
// pair into the conversation union at the boundary.
func conversationFromRequest(r *http.Request, isGroup bool) models.Conversation {
	id := r.PathValue("id")
	if isGroup {
		return models.GroupConversation(id)
	}
	return models.DirectConversation(id)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	isGroup, _ := strconv.ParseBool(r.URL.Query().Get("isGroup"))
	conv := conversationFromRequest(r, isGroup)

	messages, err := a.router.History(r.Context(), userID, conv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Text    string `json:"text" validate:"max=4096"`
	Image   string `json:"image"`
	IsGroup bool   `json:"isGroup"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	conv := conversationFromRequest(r, req.IsGroup)
	payload := models.MessagePayload{Text: req.Text, Image: req.Image}

	var (
		msg models.Message
		err error
	)
	if conv.IsGroup() {
		msg, err = a.router.SendGroup(r.Context(), userID, conv.ID, payload)
	} else {
		msg, err = a.router.SendDirect(r.Context(), userID, conv.ID, payload)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

type createGroupRequest struct {
	Name     string `json:"name" validate:"required,max=128"`
	GroupPic string `json:"groupPic"`
}

func (a *API) CreateGroupHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	group, err := a.router.CreateGroup(r.Context(), userID, req.Name, req.GroupPic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

type updateGroupRequest struct {
	Name            string   `json:"name" validate:"omitempty,max=128"`
	GroupPic        string   `json:"groupPic"`
	MembersToAdd    []string `json:"membersToAdd" validate:"omitempty,dive,required"`
	MembersToRemove []string `json:"membersToRemove" validate:"omitempty,dive,required"`
}

func (a *API) UpdateGroupHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	group, err := a.router.UpdateGroup(r.Context(), userID, r.PathValue("id"), router.GroupUpdate{
		Name:            req.Name,
		GroupPic:        req.GroupPic,
		MembersToAdd:    req.MembersToAdd,
		MembersToRemove: req.MembersToRemove,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) SidebarGroupsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	groups, err := a.router.SidebarGroups(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (a *API) SidebarUsersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := a.router.SidebarUsers(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	f, err := a.files.Get(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	w.Header().Set("Content-Type", filestore.ContentType(head))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := w.Write(head); err != nil {
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		slog.Debug("file download aborted", "error", err)
	}
}
