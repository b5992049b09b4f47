// Package identity talks to the session provider's admin API.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/movimentoterra/internal/domain"
)

// Provider error codes with a dedicated user-facing message.
var refusalMessages = map[string]string{
	"USER_NOT_FOUND":                   "Utente non trovato",
	"YOU_CANNOT_BAN_YOURSELF":          "Non puoi bannare te stesso",
	"YOU_ARE_NOT_ALLOWED_TO_BAN_USERS": "Non hai i permessi per bannare gli utenti",
	"USER_ALREADY_BANNED":              "L'utente è già bannato",
}

const defaultRefusal = "Impossibile completare l'operazione sull'utente"

// Client implements domain.UserModerator over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewClient constructs a Client for the provider at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type banRequest struct {
	UserID    string `json:"userId"`
	BanReason string `json:"banReason,omitempty"`
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BanUser implements domain.UserModerator.
func (c *Client) BanUser(ctx context.Context, userID, reason string) error {
	return c.post(ctx, "/admin/ban-user", banRequest{UserID: userID, BanReason: reason})
}

// UnbanUser implements domain.UserModerator.
func (c *Client) UnbanUser(ctx context.Context, userID string) error {
	return c.post(ctx, "/admin/unban-user", banRequest{UserID: userID})
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 500 {
		return &ProviderError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var perr providerError
	_ = json.Unmarshal(raw, &perr)
	return refusal(perr.Code)
}

func refusal(code string) *domain.RefusalError {
	message, ok := refusalMessages[code]
	if !ok {
		message = defaultRefusal
	}
	return &domain.RefusalError{Code: code, Message: message}
}

// ProviderError is an unexpected provider failure; it is never shown to users.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider returned %d: %s", e.Status, e.Body)
}
