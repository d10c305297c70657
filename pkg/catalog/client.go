package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/smmdb/smmdb-client/internal/transport"
	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
	"github.com/smmdb/smmdb-client/pkg/save"
)

// DefaultBaseURL is the production catalog service.
const DefaultBaseURL = "https://api.smmdb.net"

// Client talks to the remote catalog service: paginated search, per-course
// fetch, thumbnail fetch, upload, delete, vote, and credential
// verification. All operations are context-aware network calls that fail
// with a typed error; none of them retries automatically.
type Client struct {
	baseURL   string
	transport *transport.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the catalog service base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient supplies a custom http.Client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.transport = transport.NewWithHTTPClient(&transport.APIKeyAuth{}, httpClient)
	}
}

// NewClient creates a catalog client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		transport: transport.New(&transport.APIKeyAuth{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Search runs a paginated course query. The query is validated before any
// network traffic happens.
func (c *Client) Search(ctx context.Context, query QueryState) ([]CourseMetadata, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/courses?" + query.Values().Encode()
	resp, err := c.transport.Get(ctx, endpoint, "")
	if err != nil {
		return nil, errors.WrapAPI("/courses", 0, err)
	}

	var courses []CourseMetadata
	if err := transport.DecodeResponse(resp, "/courses", &courses); err != nil {
		return nil, err
	}

	logging.Debug().
		Int("count", len(courses)).
		Uint32("skip", query.Skip).
		Msg("course search completed")

	return courses, nil
}

// FetchByIDs fetches metadata for a specific set of remote ids in one
// request, forcing the page size high enough to return them all. Used to
// annotate the slots of a freshly opened save.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]CourseMetadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxLimit {
		return nil, errors.NewValidationError("ids", len(ids), fmt.Sprintf("at most %d ids per fetch", MaxLimit))
	}

	values := url.Values{}
	values.Set("limit", fmt.Sprintf("%d", MaxLimit))
	encodeIDs(values, ids)

	endpoint := c.baseURL + "/courses?" + values.Encode()
	resp, err := c.transport.Get(ctx, endpoint, "")
	if err != nil {
		return nil, errors.WrapAPI("/courses", 0, err)
	}

	var courses []CourseMetadata
	if err := transport.DecodeResponse(resp, "/courses", &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// FetchThumbnail fetches the medium-size thumbnail bytes for a course.
func (c *Client) FetchThumbnail(ctx context.Context, id string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/courses/thumbnail/%s?size=m", c.baseURL, url.PathEscape(id))
	resp, err := c.transport.Get(ctx, endpoint, "")
	if err != nil {
		return nil, errors.WrapAPI("/courses/thumbnail", 0, err)
	}
	return transport.ReadBody(resp, "/courses/thumbnail")
}

// uploadResponse is the service's reply to a course upload.
type uploadResponse struct {
	Succeeded []struct {
		ID string `json:"id"`
	} `json:"succeeded"`
	Failed []struct {
		Error string `json:"error"`
	} `json:"failed"`
}

// Upload sends a local course to the catalog and returns the newly
// assigned remote id. Rejections are surfaced as APIError, non-fatal to
// the caller.
func (c *Client) Upload(ctx context.Context, course *save.Course, apiKey string) (string, error) {
	if apiKey == "" {
		return "", errors.ErrAPIKeyRequired
	}
	if course == nil {
		return "", errors.NewValidationError("course", nil, "course is nil")
	}

	payload, err := save.BinaryCodec{}.EncodeCourse(course)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("course", "course.smm2")
	if err != nil {
		return "", errors.WrapIO("write", "multipart body", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", errors.WrapIO("write", "multipart body", err)
	}
	if err := writer.Close(); err != nil {
		return "", errors.WrapIO("close", "multipart body", err)
	}

	resp, err := c.transport.Post(ctx, c.baseURL+"/courses", writer.FormDataContentType(), &body, apiKey)
	if err != nil {
		return "", errors.WrapAPI("/courses", 0, err)
	}

	var result uploadResponse
	if err := transport.DecodeResponse(resp, "/courses", &result); err != nil {
		return "", err
	}
	if len(result.Succeeded) == 0 {
		message := "upload rejected"
		if len(result.Failed) > 0 && result.Failed[0].Error != "" {
			message = result.Failed[0].Error
		}
		return "", errors.NewAPIError("/courses", resp.StatusCode, message)
	}

	id := result.Succeeded[0].ID
	logging.Info().Str("course_id", id).Str("title", course.Title).Msg("course uploaded")
	return id, nil
}

// Delete removes a remote course owned by the authenticated user.
func (c *Client) Delete(ctx context.Context, id string, apiKey string) error {
	if apiKey == "" {
		return errors.ErrAPIKeyRequired
	}

	endpoint := fmt.Sprintf("%s/courses/%s", c.baseURL, url.PathEscape(id))
	resp, err := c.transport.Delete(ctx, endpoint, apiKey)
	if err != nil {
		return errors.WrapAPI("/courses", 0, err)
	}
	return transport.DecodeResponse(resp, "/courses", nil)
}

// Vote casts a vote on a remote course: -1 downvote, 1 upvote, 0 retracts
// a previous vote.
func (c *Client) Vote(ctx context.Context, id string, value int, apiKey string) error {
	if apiKey == "" {
		return errors.ErrAPIKeyRequired
	}
	if !VoteValue(value) {
		return errors.NewValidationError("value", value, "vote must be -1, 0 or 1")
	}

	body, err := json.Marshal(map[string]int{"value": value})
	if err != nil {
		return errors.WrapParse("json", "vote body", err)
	}

	endpoint := fmt.Sprintf("%s/courses/vote/%s", c.baseURL, url.PathEscape(id))
	resp, err := c.transport.Post(ctx, endpoint, "application/json", bytes.NewReader(body), apiKey)
	if err != nil {
		return errors.WrapAPI("/courses/vote", 0, err)
	}
	return transport.DecodeResponse(resp, "/courses/vote", nil)
}

// VerifyCredential checks an API key against the service and returns the
// authenticated identity. Callers treat failure as "logged out", never as
// fatal.
func (c *Client) VerifyCredential(ctx context.Context, apiKey string) (*UserIdentity, error) {
	if apiKey == "" {
		return nil, errors.ErrAPIKeyRequired
	}

	resp, err := c.transport.Post(ctx, c.baseURL+"/login", "application/json", nil, apiKey)
	if err != nil {
		return nil, errors.NewAuthenticationError("api_key", "login request failed", err)
	}

	var identity UserIdentity
	if err := transport.DecodeResponse(resp, "/login", &identity); err != nil {
		return nil, errors.NewAuthenticationError("api_key", "credential rejected", err)
	}
	return &identity, nil
}
