// Package ghfake is an in-memory stand-in for the parts of the GitHub REST API
// the sync client uses: repository contents, the current user and repository lookup.
package ghfake

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Commit records one accepted write.
type Commit struct {
	Path    string
	Message string
	Branch  string
	SHA     string
}

// Server fakes api.github.com for a single repository.
type Server struct {
	*httptest.Server

	Owner string
	Repo  string

	mu      sync.Mutex
	files   map[string][]byte
	tokens  map[string]string // token → login
	commits []Commit
	gets    int
	puts    int

	// BeforePut runs after a PUT body is parsed and before the precondition is
	// checked. Tests use it to land a competing write.
	BeforePut func(path string)
}

// New starts a fake for owner/repo. Close it when done.
func New(owner, repo string) *Server {
	s := &Server{
		Owner:  owner,
		Repo:   repo,
		files:  make(map[string][]byte),
		tokens: make(map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddToken makes token valid for login.
func (s *Server) AddToken(token, login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = login
}

// RevokeToken makes every further request with token fail with 401.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// PutFile stores content at path directly, bypassing the API.
func (s *Server) PutFile(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), content...)
}

// File returns the stored content of path.
func (s *Server) File(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	return append([]byte(nil), b...), ok
}

// SHA returns the blob SHA of path, or "" when absent.
func (s *Server) SHA(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.files[path]; ok {
		return BlobSHA(b)
	}
	return ""
}

func (s *Server) Commits() []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Commit(nil), s.commits...)
}

// Requests returns how many contents GETs and PUTs were served.
func (s *Server) Requests() (gets, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}

// BlobSHA computes the git blob hash of content.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v3")

	if path == "/user" && r.Method == http.MethodGet {
		login, ok := s.authorize(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"login":      login,
			"avatar_url": "https://avatars.example.com/" + login,
		})
		return
	}

	repoPrefix := fmt.Sprintf("/repos/%s/%s", s.Owner, s.Repo)
	if path == repoPrefix && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{
			"name":      s.Repo,
			"full_name": s.Owner + "/" + s.Repo,
		})
		return
	}

	contentsPrefix := repoPrefix + "/contents/"
	if !strings.HasPrefix(path, contentsPrefix) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	filePath := strings.TrimPrefix(path, contentsPrefix)

	if r.Header.Get("Authorization") != "" {
		if _, ok := s.authorize(r); !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		s.getContents(w, filePath)
	case http.MethodPut:
		s.putContents(w, r, filePath)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed"})
	}
}

func (s *Server) getContents(w http.ResponseWriter, path string) {
	s.mu.Lock()
	s.gets++
	content, ok := s.files[path]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"name":     path[strings.LastIndex(path, "/")+1:],
		"path":     path,
		"sha":      BlobSHA(content),
		"size":     len(content),
		"content":  base64.StdEncoding.EncodeToString(content),
	})
}

type putRequest struct {
	Message string  `json:"message"`
	Content string  `json:"content"`
	SHA     *string `json:"sha"`
	Branch  string  `json:"branch"`
}

func (s *Server) putContents(w http.ResponseWriter, r *http.Request, path string) {
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "content is not valid Base64"})
		return
	}

	if hook := s.BeforePut; hook != nil {
		hook(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++

	existing, exists := s.files[path]
	switch {
	case exists && (req.SHA == nil || *req.SHA == ""):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"message": "Invalid request.\n\n\"sha\" wasn't supplied.",
		})
		return
	case exists && *req.SHA != BlobSHA(existing):
		writeJSON(w, http.StatusConflict, map[string]string{
			"message": fmt.Sprintf("%s does not match %s", path, *req.SHA),
		})
		return
	}

	s.files[path] = content
	sha := BlobSHA(content)
	commitSHA := BlobSHA([]byte(fmt.Sprintf("%s\n%d", req.Message, len(s.commits))))
	s.commits = append(s.commits, Commit{Path: path, Message: req.Message, Branch: req.Branch, SHA: commitSHA})

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"path": path, "sha": sha},
		"commit":  map[string]any{"sha": commitSHA, "message": req.Message},
	})
}

func (s *Server) authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.tokens[token]
	return login, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
