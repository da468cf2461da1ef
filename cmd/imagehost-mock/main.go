package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Clark-Hu/hidden-spots/internal/imagehost"
)

func main() {
	var (
		port    = flag.String("port", "9100", "port to listen on")
		dir     = flag.String("dir", "mock-images", "directory uploads are written to")
		apiKey  = flag.String("api-key", "", "required X-API-Key value (empty accepts any)")
		logReqs = flag.Bool("log", false, "enable request logging")
	)
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("create upload dir: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if *apiKey != "" && r.Header.Get("X-API-Key") != *apiKey {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, imagehost.MaxImageBytes+1<<20)
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		contentType, err := imagehost.DetectContentType(header.Header.Get("Content-Type"), data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}

		ext := ".jpg"
		if contentType == "image/png" {
			ext = ".png"
		}
		name := uuid.NewString() + ext
		if err := os.WriteFile(filepath.Join(*dir, name), data, 0o644); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if *logReqs {
			log.Printf("stored %s (%d bytes) as %s", header.Filename, len(data), name)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(map[string]string{"url": "/images/" + name}); err != nil {
			log.Printf("encode response: %v", err)
		}
	})
	mux.HandleFunc("/images/", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(strings.TrimPrefix(r.URL.Path, "/images/"))
		if name == "." || name == "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(*dir, name))
	})

	addr := ":" + *port
	log.Printf("mock image host listening on %s, storing into %s", addr, *dir)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
