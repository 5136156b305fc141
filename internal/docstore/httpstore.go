package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStore реализует Store поверх REST API внешнего document-сервиса:
// GET/PUT /document/{id}, пользователь передается заголовком X-User-Id.
type HTTPStore struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPStore создает клиент document-сервиса.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// envelope — конверт ответа document-сервиса
type envelope struct {
	Data    *Document `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
	Code    int       `json:"code"`
}

// Fetch загружает документ через GET /document/{id}.
func (s *HTTPStore) Fetch(ctx context.Context, documentID, userID string) (*Document, error) {
	url := fmt.Sprintf("%s/document/%s", s.baseURL, documentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}
	req.Header.Set("X-User-Id", userID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode fetch response: %w", err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("fetch response without document: %s", env.Message)
	}

	return env.Data, nil
}

// Update сохраняет содержимое документа через PUT /document/{id}.
func (s *HTTPStore) Update(ctx context.Context, documentID, content, userID string) error {
	url := fmt.Sprintf("%s/document/%s", s.baseURL, documentID)

	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal update request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", userID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("update failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
