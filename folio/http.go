package folio

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/golang/glog"
)

const ServerVersion = "0.1.0"

// Handler is the full http surface: the out-of-band endpoints handled
// before connection upgrade, the metrics endpoint, and the websocket
// upgrade itself.
func (self *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", self.handleStatus)
	mux.HandleFunc("POST /api/setup", self.handleSetup)
	mux.HandleFunc("POST /api/login", self.handleLogin)
	mux.HandleFunc("GET /api/files/download/{name}", self.handleDownload)
	mux.HandleFunc("POST /api/files/upload/{name}", self.handleUpload)
	mux.Handle("GET /metrics", self.metrics.Handler())
	mux.HandleFunc("/ws", self.handleWs)
	return mux
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (self *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, _, setUp, err := self.store.Auth()
	if err != nil {
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJson(w, http.StatusOK, map[string]any{
		"version": ServerVersion,
		"setUp":   setUp,
	})
}

type setupArgs struct {
	Password string `json:"password"`
}

func (self *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var args setupArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.Password == "" {
		writeJson(w, http.StatusBadRequest, map[string]any{"error": "password required"})
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(args.Password), bcrypt.DefaultCost)
	if err != nil {
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if err := self.store.Setup(passwordHash, secret); err != nil {
		// setup is once only
		writeJson(w, http.StatusConflict, map[string]any{"error": "setup already completed"})
		return
	}
	glog.Infof("[http]setup completed\n")
	writeJson(w, http.StatusOK, map[string]any{})
}

type loginArgs struct {
	Password string `json:"password"`
}

func (self *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var args loginArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeJson(w, http.StatusBadRequest, map[string]any{"error": "password required"})
		return
	}

	passwordHash, _, ok, err := self.store.Auth()
	if err != nil {
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if !ok {
		writeJson(w, http.StatusUnauthorized, map[string]any{"error": "server not set up"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(passwordHash, []byte(args.Password)); err != nil {
		writeJson(w, http.StatusUnauthorized, map[string]any{"error": "invalid password"})
		return
	}

	token, err := self.gate.IssueToken("server", self.settings.TokenTtl)
	if err != nil {
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJson(w, http.StatusOK, map[string]any{"token": token})
}

// filePath resolves a requested file name inside the files dir,
// rejecting traversal.
func (self *Server) filePath(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.HasPrefix(name, ".") {
		return "", errors.New("invalid file name")
	}
	return filepath.Join(self.settings.FilesDir, name), nil
}

func (self *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !self.gate.Authenticate(r) {
		writeJson(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	path, err := self.filePath(r.PathValue("name"))
	if err != nil {
		writeJson(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeJson(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}

func (self *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !self.gate.Authenticate(r) {
		writeJson(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	name := r.PathValue("name")
	path, err := self.filePath(name)
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]any{"error": "invalid file name"})
		return
	}
	if err := os.MkdirAll(self.settings.FilesDir, 0o755); err != nil {
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	// O_EXCL so concurrent uploads of the same name cannot both win
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		writeJson(w, http.StatusConflict, map[string]any{"error": "file exists"})
		return
	}
	if err != nil {
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, r.Body); err != nil {
		os.Remove(path)
		writeJson(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	self.registry.Publish("", ChannelServerFiles, ServerFilesEvent{
		Cause: CauseCreated,
		Name:  name,
	})
	writeJson(w, http.StatusOK, map[string]any{})
}
