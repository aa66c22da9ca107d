// Package wagering talks to the streaming platform's prediction API.
package wagering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dotabod/backend-sub002/internal/domain/prediction"
	"github.com/dotabod/backend-sub002/pkg/logger"
)

const (
	predictionsPath = "/predictions"
	maxErrorBody    = 512
)

// Client is a rate limited client of the predictions endpoints. It
// implements prediction.API.
type Client struct {
	baseURL      string
	clientID     string
	token        string
	httpClient   *http.Client
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
	log          logger.Logger
}

var _ prediction.API = (*Client)(nil)

// NewClient creates a client for baseURL authenticating with clientID and
// an app access token.
func NewClient(baseURL, clientID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		token:        token,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		readLimiter:  rate.NewLimiter(rate.Limit(10), 10),
		writeLimiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("wagering")
	}
	return c
}

type outcomeDTO struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title"`
	Users         int    `json:"users,omitempty"`
	ChannelPoints int    `json:"channel_points,omitempty"`
}

type predictionDTO struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Status           string       `json:"status"`
	WinningOutcomeID string       `json:"winning_outcome_id,omitempty"`
	Outcomes         []outcomeDTO `json:"outcomes"`
}

type envelope struct {
	Data []predictionDTO `json:"data"`
}

type createRequest struct {
	BroadcasterID    string       `json:"broadcaster_id"`
	Title            string       `json:"title"`
	Outcomes         []outcomeDTO `json:"outcomes"`
	PredictionWindow int          `json:"prediction_window"`
}

type endRequest struct {
	BroadcasterID    string `json:"broadcaster_id"`
	ID               string `json:"id"`
	Status           string `json:"status"`
	WinningOutcomeID string `json:"winning_outcome_id,omitempty"`
}

// CreatePrediction opens a prediction accepting entries for window.
func (c *Client) CreatePrediction(ctx context.Context, broadcasterID, title string, outcomes []string, window time.Duration) (prediction.Resource, error) {
	req := createRequest{
		BroadcasterID:    broadcasterID,
		Title:            title,
		PredictionWindow: int(window / time.Second),
	}
	for _, o := range outcomes {
		req.Outcomes = append(req.Outcomes, outcomeDTO{Title: o})
	}
	var out envelope
	if err := c.do(ctx, http.MethodPost, predictionsPath, req, &out); err != nil {
		return prediction.Resource{}, err
	}
	if len(out.Data) == 0 {
		return prediction.Resource{}, fmt.Errorf("create prediction: empty response")
	}
	return toResource(out.Data[0]), nil
}

// GetPredictions returns the named predictions of broadcasterID.
func (c *Client) GetPredictions(ctx context.Context, broadcasterID string, ids ...string) ([]prediction.Resource, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	for _, id := range ids {
		q.Add("id", id)
	}
	var out envelope
	if err := c.do(ctx, http.MethodGet, predictionsPath+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	list := make([]prediction.Resource, 0, len(out.Data))
	for _, p := range out.Data {
		list = append(list, toResource(p))
	}
	return list, nil
}

// ResolvePrediction pays out winningOutcomeID.
func (c *Client) ResolvePrediction(ctx context.Context, broadcasterID, id, winningOutcomeID string) error {
	return c.do(ctx, http.MethodPatch, predictionsPath, endRequest{
		BroadcasterID:    broadcasterID,
		ID:               id,
		Status:           string(prediction.StatusResolved),
		WinningOutcomeID: winningOutcomeID,
	}, nil)
}

// CancelPrediction refunds every entry.
func (c *Client) CancelPrediction(ctx context.Context, broadcasterID, id string) error {
	return c.do(ctx, http.MethodPatch, predictionsPath, endRequest{
		BroadcasterID: broadcasterID,
		ID:            id,
		Status:        string(prediction.StatusCanceled),
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	lim := c.readLimiter
	if method != http.MethodGet {
		lim = c.writeLimiter
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug(ctx, "wagering request",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return prediction.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: text}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toResource(p predictionDTO) prediction.Resource {
	r := prediction.Resource{
		ID:               p.ID,
		Title:            p.Title,
		Status:           prediction.Status(p.Status),
		WinningOutcomeID: p.WinningOutcomeID,
	}
	for _, o := range p.Outcomes {
		r.Outcomes = append(r.Outcomes, prediction.Outcome{
			ID:            o.ID,
			Title:         o.Title,
			Users:         o.Users,
			ChannelPoints: o.ChannelPoints,
		})
	}
	return r
}
