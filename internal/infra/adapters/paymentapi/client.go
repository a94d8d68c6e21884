package paymentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
)

var _ adapter.PaymentStatusAPI = (*Client)(nil)

const maxBodyBytes = 1 << 20

// Client implements PaymentStatusAPI against the backend payment-status endpoints.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a status client. timeout bounds every request.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// statusResponse is the body of GET /payment-status/{id}.
type statusResponse struct {
	ID        string              `json:"id"`
	SubjectID string              `json:"subjectId"`
	Amount    int64               `json:"amount"`
	Status    model.PaymentStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
}

// typeResponse is the body of GET /payment-status/{id}/type.
type typeResponse struct {
	Exists bool   `json:"exists"`
	Type   string `json:"type"`
}

func (c *Client) FetchStatus(ctx context.Context, paymentID string) (model.StatusSnapshot, error) {
	var body statusResponse
	code, err := c.get(ctx, "/payment-status/"+url.PathEscape(paymentID), &body)
	if err != nil {
		return model.StatusSnapshot{}, err
	}
	if code == http.StatusNotFound {
		return model.StatusSnapshot{}, domain.ErrPaymentNotFound
	}
	if body.ID == "" {
		body.ID = paymentID
	}
	return model.StatusSnapshot{
		PaymentID:  body.ID,
		Status:     model.PaymentStatus(strings.ToLower(string(body.Status))),
		Amount:     body.Amount,
		SubjectID:  body.SubjectID,
		CreatedAt:  body.CreatedAt,
		ObservedAt: time.Now(),
		Source:     model.SourcePoll,
	}, nil
}

func (c *Client) FetchType(ctx context.Context, paymentID string) (adapter.PaymentTypeInfo, error) {
	var body typeResponse
	code, err := c.get(ctx, "/payment-status/"+url.PathEscape(paymentID)+"/type", &body)
	if err != nil {
		return adapter.PaymentTypeInfo{}, err
	}
	if code == http.StatusNotFound || !body.Exists {
		return adapter.PaymentTypeInfo{Exists: false}, nil
	}
	info := adapter.PaymentTypeInfo{Exists: true}
	if kind, err := model.ParseSubjectKind(body.Type); err == nil {
		info.Kind = kind
	}
	return info, nil
}

// get decodes a 2xx JSON body into out. A 404 is returned as a code, not an error.
func (c *Client) get(ctx context.Context, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStatusAPIFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: status %d, body: %s", domain.ErrStatusAPIFailure, resp.StatusCode, truncate(body, 256))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w, body: %s", err, truncate(body, 256))
	}
	return resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
