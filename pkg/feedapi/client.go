package feedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatfeed/internal/errors"
	"chatfeed/pkg/feedapi/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "chatfeed/feedapi"

// FeedClient talks to the message service over its REST contract. All
// responses are wrapped in a {success, data, error} envelope; a success:false
// envelope is reported as a server rejection carrying the server's message.
type FeedClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *logrus.Logger
	tracer    oteltrace.Tracer
}

func NewClient(baseURL, authToken string, httpClient *http.Client) *FeedClient {
	return NewClientWithLogger(baseURL, authToken, httpClient, nil)
}

func NewClientWithLogger(baseURL, authToken string, httpClient *http.Client, logger *logrus.Logger) *FeedClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &FeedClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		client:    httpClient,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

func (c *FeedClient) GetLatestMessages(ctx context.Context, groupID string, limit int) (*types.MessagePage, error) {
	query := url.Values{}
	query.Set("group", groupID)
	query.Set("limit", strconv.Itoa(limit))

	data, err := c.doRequest(ctx, http.MethodGet, "/messages", query, nil)
	if err != nil {
		return nil, err
	}

	var page types.MessagePage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode message page: %w", err)
	}
	return &page, nil
}

func (c *FeedClient) GetOlderMessages(ctx context.Context, groupID, cursor string, limit int) (*types.MessagePage, error) {
	query := url.Values{}
	query.Set("group", groupID)
	query.Set("cursor", cursor)
	query.Set("limit", strconv.Itoa(limit))

	data, err := c.doRequest(ctx, http.MethodGet, "/messages", query, nil)
	if err != nil {
		return nil, err
	}

	var page types.MessagePage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode message page: %w", err)
	}
	return &page, nil
}

func (c *FeedClient) GetMessagesAfter(ctx context.Context, groupID string, after time.Time) ([]types.Message, error) {
	query := url.Values{}
	query.Set("group", groupID)
	query.Set("after", after.Format(time.RFC3339Nano))

	data, err := c.doRequest(ctx, http.MethodGet, "/messages", query, nil)
	if err != nil {
		return nil, err
	}

	var messages []types.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode poll delta: %w", err)
	}
	return messages, nil
}

func (c *FeedClient) PostMessage(ctx context.Context, groupID string, req types.SendMessageRequest) (*types.Message, error) {
	query := url.Values{}
	query.Set("group", groupID)

	data, err := c.doRequest(ctx, http.MethodPost, "/messages", query, req)
	if err != nil {
		return nil, err
	}

	var payload types.SendMessageData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	if payload.Message.ID == "" {
		return nil, fmt.Errorf("send response carried no message id")
	}
	return &payload.Message, nil
}

func (c *FeedClient) EditMessage(ctx context.Context, messageID, content string) error {
	req := types.PatchMessageRequest{
		MessageID: messageID,
		Action:    types.PatchActionEdit,
		Content:   content,
	}
	_, err := c.doRequest(ctx, http.MethodPatch, "/messages", nil, req)
	return err
}

func (c *FeedClient) DeleteMessage(ctx context.Context, messageID string) error {
	req := types.PatchMessageRequest{
		MessageID: messageID,
		Action:    types.PatchActionDelete,
	}
	_, err := c.doRequest(ctx, http.MethodPatch, "/messages", nil, req)
	return err
}

func (c *FeedClient) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID), nil, nil)
	if err != nil {
		return nil, err
	}

	var group types.Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("failed to decode group: %w", err)
	}
	return &group, nil
}

// doRequest issues one request, unwraps the envelope, and returns the raw
// data payload.
func (c *FeedClient) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("feedapi.%s %s", method, path),
		oteltrace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, errors.NewAPIError(path, 0, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, errors.NewAPIError(path, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"endpoint": path,
		}).Debug("Message service returned error status")
		span.SetStatus(codes.Error, "error status")
		return nil, errors.NewAPIError(path, resp.StatusCode,
			fmt.Errorf("message service error: status %d, body: %s", resp.StatusCode, string(bodyBytes)))
	}

	var envelope types.Envelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		span.RecordError(err)
		return nil, errors.NewAPIError(path, resp.StatusCode, fmt.Errorf("failed to decode envelope: %w", err))
	}

	if !envelope.Success {
		span.SetStatus(codes.Error, "server rejection")
		return nil, errors.NewServerRejection(path, envelope.Error)
	}

	return envelope.Data, nil
}
