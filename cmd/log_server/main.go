package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"calendar_helper_bot/internal/logger"
	"calendar_helper_bot/internal/pkg/http_client"
)

const (
	maxKeptEntries = 1000
	maxEntrySize   = 1 << 20
)

// LogStorage последние записи в памяти и полный журнал в файле
type LogStorage struct {
	mu      sync.Mutex
	entries []http_client.LogEntry
	file    io.Writer
}

func NewLogStorage(file io.Writer) *LogStorage {
	return &LogStorage{
		entries: make([]http_client.LogEntry, 0, maxKeptEntries),
		file:    file,
	}
}

func (s *LogStorage) Add(entry http_client.LogEntry, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > maxKeptEntries {
		s.entries = s.entries[len(s.entries)-maxKeptEntries:]
	}

	if s.file == nil {
		return nil
	}
	_, err := s.file.Write(append(raw, '\n'))
	return err
}

func (s *LogStorage) Entries() []http_client.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http_client.LogEntry(nil), s.entries...)
}

func main() {
	if err := logger.Init("info", true); err != nil {
		log.Fatal().Err(err).Msg("failed to init logger")
	}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "/logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", logDir).Msg("failed to create log directory")
	}

	logFile, err := os.OpenFile(
		filepath.Join(logDir, fmt.Sprintf("http_%s.log", time.Now().Format("2006-01-02"))),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0o644,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open log file")
	}
	defer logFile.Close()

	storage := NewLogStorage(logFile)

	port := os.Getenv("LOG_SERVER_PORT")
	if port == "" {
		port = "8081"
	}

	log.Info().Str("port", port).Str("dir", logDir).Msg("log server starting")
	if err := http.ListenAndServe(":"+port, newRouter(storage)); err != nil {
		log.Error().Err(err).Msg("log server stopped")
	}
}

func newRouter(storage *LogStorage) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/log", handleLog(storage)).Methods(http.MethodPost)
	router.HandleFunc("/logs", handleGetLogs(storage)).Methods(http.MethodGet)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	return router
}

func handleLog(storage *LogStorage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEntrySize))
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		var entry http_client.LogEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if err := storage.Add(entry, body); err != nil {
			log.Error().Err(err).Msg("failed to write log file")
		}

		event := log.Info()
		if entry.Error != "" {
			event = log.Warn().Str("error", entry.Error)
		}
		event.
			Str("method", entry.Method).
			Str("url", entry.URL).
			Int("status", entry.StatusCode).
			Int64("duration_ms", entry.Duration).
			Msg("request logged")

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func handleGetLogs(storage *LogStorage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(storage.Entries())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
