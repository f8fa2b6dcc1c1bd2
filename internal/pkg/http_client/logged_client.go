package http_client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	maxLoggedBody = 1000
	redacted      = "REDACTED"
)

// поля, значения которых не должны попадать в логи
var secretFields = []string{"access_token", "refresh_token", "id_token", "client_secret", "code", "code_verifier"}

type LogEntry struct {
	ID           string              `json:"id"`
	Timestamp    string              `json:"timestamp"`
	Method       string              `json:"method"`
	URL          string              `json:"url"`
	Headers      map[string][]string `json:"headers"`
	RequestBody  string              `json:"request_body"`
	StatusCode   int                 `json:"status_code"`
	ResponseBody string              `json:"response_body"`
	Duration     int64               `json:"duration_ms"`
	Error        string              `json:"error,omitempty"`
}

// LoggedTransport записывает каждый исходящий запрос и отправляет запись на лог-сервер
type LoggedTransport struct {
	next         http.RoundTripper
	logServerURL string
	shipper      *http.Client
}

func NewLoggedTransport(next http.RoundTripper, logServerURL string) *LoggedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &LoggedTransport{
		next:         next,
		logServerURL: strings.TrimRight(logServerURL, "/"),
		shipper:      &http.Client{Timeout: 5 * time.Second},
	}
}

// NewLoggedClient http.Client с логированием запросов
func NewLoggedClient(logServerURL string) *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: NewLoggedTransport(nil, logServerURL),
	}
}

func (t *LoggedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	var requestBody []byte
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err == nil {
			requestBody, _ = io.ReadAll(body)
			body.Close()
		}
	}

	resp, err := t.next.RoundTrip(req)

	entry := LogEntry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().Format(time.RFC3339),
		Method:      req.Method,
		URL:         redactURL(req.URL),
		Headers:     redactHeaders(req.Header),
		RequestBody: redactBody(requestBody),
		Duration:    time.Since(startTime).Milliseconds(),
	}

	if err != nil {
		entry.Error = err.Error()
		go t.sendLog(entry)
		return nil, err
	}

	responseBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(responseBody))
	if readErr != nil {
		entry.Error = readErr.Error()
	}

	entry.StatusCode = resp.StatusCode
	entry.ResponseBody = redactBody(responseBody)

	go t.sendLog(entry)

	return resp, nil
}

func (t *LoggedTransport) sendLog(entry LogEntry) {
	if t.logServerURL == "" {
		t.printToLog(entry)
		return
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return
	}

	resp, err := t.shipper.Post(t.logServerURL+"/log", "application/json", bytes.NewReader(jsonData))
	if err != nil {
		log.Debug().Err(err).Msg("failed to ship http log entry")
		t.printToLog(entry)
		return
	}
	resp.Body.Close()
}

func (t *LoggedTransport) printToLog(entry LogEntry) {
	event := log.Debug()
	if entry.Error != "" || entry.StatusCode >= http.StatusBadRequest {
		event = log.Warn()
	}
	event.
		Str("request_id", entry.ID).
		Str("method", entry.Method).
		Str("url", entry.URL).
		Int("status", entry.StatusCode).
		Int64("duration_ms", entry.Duration).
		Str("request_body", entry.RequestBody).
		Str("response_body", entry.ResponseBody).
		Str("error", entry.Error).
		Msg("outbound http request")
}

func redactHeaders(h http.Header) map[string][]string {
	headers := make(map[string][]string, len(h))
	for key, values := range h {
		if strings.EqualFold(key, "Authorization") {
			headers[key] = []string{redacted}
			continue
		}
		headers[key] = values
	}
	return headers
}

func redactURL(u *url.URL) string {
	cp := *u
	// токен бота передается в пути запросов Telegram
	if strings.HasPrefix(cp.Path, "/bot") {
		if i := strings.Index(cp.Path[1:], "/"); i > 0 {
			cp.Path = "/bot" + redacted + cp.Path[i+1:]
		} else {
			cp.Path = "/bot" + redacted
		}
	}
	q := cp.Query()
	for _, field := range secretFields {
		if q.Has(field) {
			q.Set(field, redacted)
		}
	}
	cp.RawQuery = q.Encode()
	return cp.String()
}

func redactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var jsonData map[string]interface{}
	if err := json.Unmarshal(body, &jsonData); err == nil {
		for _, field := range secretFields {
			if _, ok := jsonData[field]; ok {
				jsonData[field] = redacted
			}
		}
		out, _ := json.Marshal(jsonData)
		return truncate(string(out))
	}

	if form, err := url.ParseQuery(string(body)); err == nil && len(form) > 0 && !bytes.ContainsAny(body, " \n{") {
		for _, field := range secretFields {
			if form.Has(field) {
				form.Set(field, redacted)
			}
		}
		return truncate(form.Encode())
	}

	return truncate(string(body))
}

func truncate(s string) string {
	if len(s) > maxLoggedBody {
		return s[:maxLoggedBody] + "... [truncated]"
	}
	return s
}
