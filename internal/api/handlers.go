package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/samsaffron/enrich/internal/sqlagent"
	"go.uber.org/zap"
)

const (
	msgBadLogin = "Incorrect username or password"
	msgBadToken = "Could not validate credentials"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, "GET, HEAD")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	base := "/" + s.cfg.Prefix
	if r.URL.Path != base && r.URL.Path != base+"/" {
		writeDetail(w, http.StatusNotFound, "Not Found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Welcome to the %s API", s.cfg.Prefix)})
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	creds, err := parseTokenRequest(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.users.Authenticate(creds.Username, creds.Password); err != nil {
		s.logger.Info("login failed", zap.String("username", creds.Username))
		writeUnauthorized(w, msgBadLogin)
		return
	}
	token, err := s.tokens.Issue(creds.Username)
	if err != nil {
		s.logger.Error("issue token", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token, "token_type": "bearer"})
}

// parseTokenRequest accepts an OAuth2 password form or a JSON body.
func parseTokenRequest(r *http.Request) (tokenRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var creds tokenRequest
	switch mediaType {
	case "application/json":
		if err := decodeJSONBody(r, &creds); err != nil {
			return tokenRequest{}, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return tokenRequest{}, fmt.Errorf("invalid form body: %w", err)
		}
		creds.Username = r.PostForm.Get("username")
		creds.Password = r.PostForm.Get("password")
	}
	if creds.Username == "" || creds.Password == "" {
		return tokenRequest{}, errors.New("username and password are required")
	}
	return creds, nil
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var opts sqlagent.InitOptions
	if err := decodeOptionalJSON(r, &opts); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.agent.Initialize(r.Context(), opts)
	if err != nil {
		s.writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"response":   res.Message,
		"session_id": res.SessionID,
	})
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req askRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	answer, err := s.agent.Ask(r.Context(), req.Question)
	if err != nil {
		s.writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "response": answer})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "response": s.agent.CacheStats()})
}

// writeAgentError maps agent failures to a 400 with the error as detail.
func (s *Server) writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sqlagent.ErrNotInitialized), errors.Is(err, sqlagent.ErrEmptyQuestion):
		s.logger.Debug("agent request rejected", zap.Error(err))
	default:
		s.logger.Warn("agent request failed", zap.Error(err))
	}
	writeDetail(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, detail)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// decodeOptionalJSON leaves dst untouched for an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
