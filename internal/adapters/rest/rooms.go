// Package rest is the client of the room server's REST endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer of the room server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("room api: status %d", e.Status)
	}
	return fmt.Sprintf("room api: status %d: %s", e.Status, e.Detail)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type RoomsClient struct {
	base       string
	token      string
	httpClient *http.Client
}

func NewRoomsClient(baseURL, token string, timeout time.Duration) *RoomsClient {
	return &RoomsClient{
		base:       strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RoomsClient) ListActive(ctx context.Context) ([]domain.Room, error) {
	var out struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms/active", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *RoomsClient) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(string(id)), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *RoomsClient) Create(ctx context.Context, title string) (*domain.Room, error) {
	body := map[string]string{"title": title}
	var room domain.Room
	if err := c.do(ctx, http.MethodPost, "/api/rooms/", body, &room); err != nil {
		return nil, err
	}
	log.Info().Str("module", "rest").Str("room", string(room.ID)).Str("title", room.Title).Msg("room created")
	return &room, nil
}

func (c *RoomsClient) Delete(ctx context.Context, id domain.RoomID) error {
	if err := c.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(string(id)), nil, nil); err != nil {
		return err
	}
	log.Info().Str("module", "rest").Str("room", string(id)).Msg("room deleted")
	return nil
}

func (c *RoomsClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Detail: detail(data)}
		log.Warn().Str("module", "rest").Str("method", method).Str("path", path).Int("status", resp.StatusCode).Str("detail", apiErr.Detail).Msg("request failed")
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// detail extracts the server's {"detail": ...} message; validation errors
// carry a list instead of a string.
func detail(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(data))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	return string(body.Detail)
}
