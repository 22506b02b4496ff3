package client

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

	"github.com/terra-clan/assessment-composer/internal/models"
)

// Client is a Go SDK for the assessment store API. It satisfies the
// composition gateway contract.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new assessment store client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a failure reported by the store, either through the
// envelope or an HTTP error status
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a store 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetAssessment retrieves an assessment with its ordered sections
func (c *Client) GetAssessment(ctx context.Context, assessmentID string) (*models.Assessment, error) {
	return call[*models.Assessment](ctx, c, http.MethodGet, assessmentPath(assessmentID), nil)
}

// CreateSection appends a section to an assessment
func (c *Client) CreateSection(ctx context.Context, assessmentID string, in models.SectionInput) (*models.Section, error) {
	return call[*models.Section](ctx, c, http.MethodPost, assessmentPath(assessmentID)+"/sections", sectionBody(in))
}

// UpdateSection changes a section's name and description
func (c *Client) UpdateSection(ctx context.Context, assessmentID, sectionID string, in models.SectionInput) (*models.Section, error) {
	return call[*models.Section](ctx, c, http.MethodPut, sectionPath(assessmentID, sectionID), sectionBody(in))
}

// DeleteSection removes a section
func (c *Client) DeleteSection(ctx context.Context, assessmentID, sectionID string) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodDelete, sectionPath(assessmentID, sectionID), nil)
	return err
}

// ReorderSections assigns 1-based positions to every section in one batch
func (c *Client) ReorderSections(ctx context.Context, assessmentID string, order []models.SectionOrder) error {
	body := map[string]interface{}{"order": order}
	_, err := call[json.RawMessage](ctx, c, http.MethodPut, assessmentPath(assessmentID)+"/sections/order", body)
	return err
}

// GetSectionSettings retrieves a section's settings. Malformed payloads are errors.
func (c *Client) GetSectionSettings(ctx context.Context, assessmentID, sectionID string) (*models.SectionSettings, error) {
	return call[*models.SectionSettings](ctx, c, http.MethodGet, sectionPath(assessmentID, sectionID)+"/settings", nil)
}

// UpdateSectionSettings replaces a section's settings
func (c *Client) UpdateSectionSettings(ctx context.Context, assessmentID, sectionID string, settings models.SectionSettings) (*models.SectionSettings, error) {
	return call[*models.SectionSettings](ctx, c, http.MethodPut, sectionPath(assessmentID, sectionID)+"/settings", settings)
}

// GetSectionQuestions retrieves a section's questions grouped by type code
func (c *Client) GetSectionQuestions(ctx context.Context, assessmentID, sectionID string) (models.QuestionGroups, error) {
	return call[models.QuestionGroups](ctx, c, http.MethodGet, sectionPath(assessmentID, sectionID)+"/questions", nil)
}

// AddQuestionsToSection attaches questions to a section
func (c *Client) AddQuestionsToSection(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error {
	body := map[string][]string{"question_ids": questionIDs}
	_, err := call[json.RawMessage](ctx, c, http.MethodPost, sectionPath(assessmentID, sectionID)+"/questions", body)
	return err
}

// RemoveQuestionsFromSection detaches questions from a section
func (c *Client) RemoveQuestionsFromSection(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error {
	body := map[string][]string{"question_ids": questionIDs}
	_, err := call[json.RawMessage](ctx, c, http.MethodPost, sectionPath(assessmentID, sectionID)+"/questions/remove", body)
	return err
}

// GetScopedQuestions queries the organization or global question library
func (c *Client) GetScopedQuestions(ctx context.Context, query models.QuestionQuery) ([]models.QuestionRef, error) {
	params := url.Values{}
	params.Set("scope", string(query.Scope))
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}
	if query.CategoryID != "" {
		params.Set("category_id", query.CategoryID)
	}
	if query.TypeCode != "" {
		params.Set("type_code", query.TypeCode)
	}
	if query.Search != "" {
		params.Set("search", query.Search)
	}

	data, err := call[struct {
		Questions []models.QuestionRef `json:"questions"`
		Total     int                  `json:"total"`
	}](ctx, c, http.MethodGet, "/api/v1/questions?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return data.Questions, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

func assessmentPath(assessmentID string) string {
	return "/api/v1/assessments/" + url.PathEscape(assessmentID)
}

func sectionPath(assessmentID, sectionID string) string {
	return assessmentPath(assessmentID) + "/sections/" + url.PathEscape(sectionID)
}

func sectionBody(in models.SectionInput) map[string]string {
	return map[string]string{"name": in.Name, "description": in.Description}
}

// call sends body as JSON and unwraps the response envelope into T
func call[T any](ctx context.Context, c *Client, method, path string, body interface{}) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	resp, err := c.doRequest(ctx, method, path, reader)
	if err != nil {
		return zero, err
	}

	var result envelope[T]
	if err := json.Unmarshal(resp, &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		apiErr := &APIError{StatusCode: http.StatusOK, Code: "unknown", Message: "request was not successful"}
		if result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		return zero, apiErr
	}

	return result.Data, nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var failed envelope[json.RawMessage]
		if json.Unmarshal(respBody, &failed) == nil && failed.Error != nil {
			apiErr.Code = failed.Error.Code
			apiErr.Message = failed.Error.Message
		}
		return nil, apiErr
	}

	return respBody, nil
}
