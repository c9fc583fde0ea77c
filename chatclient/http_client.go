package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/tournament-chat/models"
)

// APIError is a non-2xx answer of the chat server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat server: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type apiClient struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func newAPIClient(baseURL, token string, httpc *http.Client) apiClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return apiClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpc: httpc}
}

func (c apiClient) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends in as JSON (if not nil) and decodes the answer into out (if
// not nil).
func (c apiClient) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c apiClient) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env struct {
		Error any `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		switch v := env.Error.(type) {
		case string:
			msg = v
		default:
			b, _ := json.Marshal(v)
			msg = string(b)
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func scopeQuery(scope models.ConversationScope) url.Values {
	q := url.Values{}
	if scope.TeamID != nil {
		q.Set("team_id", strconv.Itoa(*scope.TeamID))
	}
	return q
}

// HTTPTable is the Table and Directory of the chat server's REST API.
type HTTPTable struct {
	api apiClient
}

// NewHTTPTable talks to the server at baseURL with a bearer token from
// /auth/login. A nil httpc uses a client with a 30s timeout.
func NewHTTPTable(baseURL, token string, httpc *http.Client) *HTTPTable {
	return &HTTPTable{api: newAPIClient(baseURL, token, httpc)}
}

func messagesPath(scope models.ConversationScope) string {
	return "/tournaments/" + strconv.Itoa(scope.TournamentID) + "/chat/messages"
}

func (t *HTTPTable) ListRecent(ctx context.Context, scope models.ConversationScope, limit int) ([]models.ChatMessage, error) {
	q := scopeQuery(scope)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := t.api.doJSON(ctx, http.MethodGet, messagesPath(scope), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

type insertRequest struct {
	ClientRef      string             `json:"client_ref"`
	Body           string             `json:"body"`
	Kind           models.MessageKind `json:"kind"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
	ReplyToID      *string            `json:"reply_to_id,omitempty"`
	IsAnnouncement bool               `json:"is_announcement"`
}

// Insert ignores msg.ID and msg.SenderID; the server assigns the id and takes
// the sender from the token.
func (t *HTTPTable) Insert(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	in := insertRequest{
		ClientRef:      msg.ClientRef,
		Body:           msg.Body,
		Kind:           msg.Kind,
		Attachment:     msg.Attachment,
		ReplyToID:      msg.ReplyToID,
		IsAnnouncement: msg.Flags.IsAnnouncement,
	}
	var out struct {
		Message models.ChatMessage `json:"message"`
	}
	if err := t.api.doJSON(ctx, http.MethodPost, messagesPath(msg.Scope), scopeQuery(msg.Scope), in, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (t *HTTPTable) Update(ctx context.Context, id string, patch MessagePatch) (*models.ChatMessage, error) {
	var out struct {
		Message models.ChatMessage `json:"message"`
	}
	if err := t.api.doJSON(ctx, http.MethodPatch, "/chat/messages/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (t *HTTPTable) Delete(ctx context.Context, id string) error {
	return t.api.doJSON(ctx, http.MethodDelete, "/chat/messages/"+url.PathEscape(id), nil, nil, nil)
}

func (t *HTTPTable) ToggleReaction(ctx context.Context, id, emoji string) (*models.ChatMessage, error) {
	var out struct {
		Message models.ChatMessage `json:"message"`
		Added   bool               `json:"added"`
	}
	in := map[string]string{"emoji": emoji}
	if err := t.api.doJSON(ctx, http.MethodPost, "/chat/messages/"+url.PathEscape(id)+"/reactions", nil, in, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (t *HTTPTable) ReplaceReactions(ctx context.Context, id string, reactions models.Reactions) (*models.ChatMessage, error) {
	if reactions == nil {
		reactions = models.Reactions{}
	}
	var out struct {
		Message models.ChatMessage `json:"message"`
	}
	in := map[string]models.Reactions{"reactions": reactions}
	if err := t.api.doJSON(ctx, http.MethodPut, "/chat/messages/"+url.PathEscape(id)+"/reactions", nil, in, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (t *HTTPTable) OrganizerID(ctx context.Context, scope models.ConversationScope) (int, error) {
	var out struct {
		Chat struct {
			OrganizerID int `json:"organizer_id"`
		} `json:"chat"`
	}
	path := "/tournaments/" + strconv.Itoa(scope.TournamentID) + "/chat"
	if err := t.api.doJSON(ctx, http.MethodGet, path, scopeQuery(scope), nil, &out); err != nil {
		return 0, err
	}
	return out.Chat.OrganizerID, nil
}

// HTTPStorage is the Storage of the chat server's /storage routes.
type HTTPStorage struct {
	api apiClient
}

func NewHTTPStorage(baseURL, token string, httpc *http.Client) *HTTPStorage {
	return &HTTPStorage{api: newAPIClient(baseURL, token, httpc)}
}

func (s *HTTPStorage) Put(ctx context.Context, bucket, key, contentType string, body io.Reader, size int64) error {
	path := "/storage/buckets/" + url.PathEscape(bucket) + "/objects/" + escapeKey(key)
	req, err := s.api.newRequest(ctx, http.MethodPut, path, nil, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	return s.api.do(req, nil)
}

func (s *HTTPStorage) PublicURL(ctx context.Context, bucket, key string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	path := "/storage/buckets/" + url.PathEscape(bucket) + "/public-url"
	if err := s.api.doJSON(ctx, http.MethodGet, path, url.Values{"key": {key}}, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
