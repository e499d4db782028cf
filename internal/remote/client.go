package remote

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

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/model"
)

var (
	// ErrTransport: сетевая ошибка или не-2xx ответ.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse: ответ не удалось разобрать.
	ErrMalformedResponse = errors.New("malformed response")
)

const maxErrorBody = 512

// Client ходит в messaging API: выборка входящих (с курсором next) и отправка исходящих.
// Таймаут задаётся в http.Client, сам клиент запрос не повторяет.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient создаёт клиент. timeout 0 означает 15 секунд.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("remote: base url is empty")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{baseURL: u, httpClient: &http.Client{Timeout: timeout}}, nil
}

// FetchMessages запрашивает первую страницу сообщений для handle, начиная с since.
func (c *Client) FetchMessages(ctx context.Context, handle string, since time.Time, limit int) (*model.MessagePage, error) {
	u := c.baseURL.JoinPath("message")
	q := u.Query()
	q.Set("handle", handle)
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()
	return c.fetch(ctx, u.String())
}

// FetchNextMessages идёт по курсору next из предыдущего ответа. Относительный курсор
// разрешается относительно base URL.
func (c *Client) FetchNextMessages(ctx context.Context, cursor string) (*model.MessagePage, error) {
	ref, err := url.Parse(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cursor %q: %v", ErrMalformedResponse, cursor, err)
	}
	return c.fetch(ctx, c.baseURL.ResolveReference(ref).String())
}

func (c *Client) fetch(ctx context.Context, target string) (*model.MessagePage, error) {
	defer logger.DeferLogDuration("remote.fetch", time.Now())()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET messages: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode messages: %v", ErrMalformedResponse, err)
	}
	page := &model.MessagePage{Messages: make([]model.Message, 0, len(body.Messages))}
	for i := range body.Messages {
		m := body.Messages[i].toModel()
		if !m.Kind.Valid() {
			logger.Warnf("remote: skip message id=%s with unknown type %q", m.ID, body.Messages[i].Type)
			continue
		}
		page.Messages = append(page.Messages, m)
	}
	if body.Links != nil {
		page.Next = strings.TrimSpace(body.Links.Next)
	}
	return page, nil
}

// PostMessage отправляет локально созданную запись. Тело ответа не используется, важен только статус.
func (c *Client) PostMessage(ctx context.Context, rec *model.MessageRecord) error {
	defer logger.DeferLogDuration("remote.PostMessage", time.Now())()
	payload, err := json.Marshal(fromRecord(rec))
	if err != nil {
		return fmt.Errorf("remote: encode message %s: %w", rec.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath("message").String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST message %s: %w", ErrTransport, rec.ID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w: %s %s: status %d: %s", ErrTransport, resp.Request.Method, resp.Request.URL.Path,
		resp.StatusCode, strings.TrimSpace(string(snippet)))
}
