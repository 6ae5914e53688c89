// Package identity is a client for the identity provider's management API.
package identity

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

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/telemetry"
	"github.com/wolfeidau/platform-gateway/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultPageSize = 50
	maxPages        = 1000
)

// Config configures the management API client.
type Config struct {
	// Domain is the tenant domain, e.g. tenant.eu.auth0.com.
	Domain       string
	ClientID     string
	ClientSecret string
	// Connection is the database connection users are created in.
	Connection string
	// DefaultPassword is used when a create request carries no password.
	DefaultPassword string
	// BaseURL overrides https://{Domain}.
	BaseURL string
}

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "https://" + c.Domain
}

// Audience is the management API audience tokens are requested for.
func (c Config) Audience() string {
	return "https://" + c.Domain + "/api/v2/"
}

// Client calls the management API with a client-credentials token. Tokens
// are held in memory and reused until they expire.
type Client struct {
	cfg     Config
	baseURL string
	api     *http.Client
	plain   *http.Client
}

// New creates a client. base is used for the token exchange and as the
// transport beneath the authorized client; nil uses http.DefaultClient.
func New(ctx context.Context, cfg Config, base *http.Client) *Client {
	if base == nil {
		base = http.DefaultClient
	}

	baseURL := cfg.baseURL()
	cc := &clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       baseURL + "/oauth/token",
		EndpointParams: url.Values{"audience": {cfg.Audience()}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}

	// The token source outlives ctx, so only its values are carried over.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)

	api := cc.Client(tokenCtx)
	api.Timeout = base.Timeout

	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		api:     api,
		plain:   base,
	}
}

// User is a management API user record.
type User struct {
	UserID      string         `json:"user_id,omitempty"`
	Email       string         `json:"email,omitempty"`
	Username    string         `json:"username,omitempty"`
	GivenName   string         `json:"given_name,omitempty"`
	FamilyName  string         `json:"family_name,omitempty"`
	Name        string         `json:"name,omitempty"`
	Blocked     bool           `json:"blocked,omitempty"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	LastLogin   *time.Time     `json:"last_login,omitempty"`
}

// CreateUserInput describes a user to create.
type CreateUserInput struct {
	Email          string `json:"email" validate:"required,email"`
	Username       string `json:"username,omitempty"`
	FirstName      string `json:"firstName" validate:"required"`
	LastName       string `json:"lastName" validate:"required"`
	Password       string `json:"password,omitempty"`
	RoleID         string `json:"roleId,omitempty"`
	OrganisationID string `json:"organisationId,omitempty"`
}

// UserPatch is a partial update. Nil fields are left unchanged; app_metadata
// keys are merged by the provider.
type UserPatch struct {
	GivenName   *string        `json:"given_name,omitempty"`
	FamilyName  *string        `json:"family_name,omitempty"`
	Name        *string        `json:"name,omitempty"`
	Blocked     *bool          `json:"blocked,omitempty"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
	Password    string         `json:"password,omitempty"`
	Connection  string         `json:"connection,omitempty"`
}

type createUserRequest struct {
	Email         string         `json:"email"`
	Username      string         `json:"username,omitempty"`
	GivenName     string         `json:"given_name"`
	FamilyName    string         `json:"family_name"`
	Name          string         `json:"name"`
	Password      string         `json:"password"`
	Connection    string         `json:"connection"`
	VerifyEmail   bool           `json:"verify_email"`
	EmailVerified bool           `json:"email_verified"`
	AppMetadata   map[string]any `json:"app_metadata,omitempty"`
}

type usersPage struct {
	Start  int    `json:"start"`
	Limit  int    `json:"limit"`
	Length int    `json:"length"`
	Total  int    `json:"total"`
	Users  []User `json:"users"`
}

type providerError struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode"`
	// The authentication API reports errors with these fields instead.
	ErrorDescription string `json:"error_description"`
	Description      string `json:"description"`
}

// NormalizeUsername replaces @ with . so an email address can be used as a
// username under the provider's username charset.
func NormalizeUsername(username string) string {
	return strings.ReplaceAll(username, "@", ".")
}

// Metadata builds the app_metadata stored on the provider record.
func Metadata(roleID, organisationID string) map[string]any {
	md := map[string]any{}
	if roleID != "" {
		md["roleId"] = roleID
	}
	if organisationID != "" {
		md["organisationId"] = organisationID
	}
	return md
}

// CreateUser creates a user in the configured connection. The password falls
// back to the configured default and then to a generated one.
func (c *Client) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	username := in.Username
	if username == "" {
		username = in.Email
	}

	password := in.Password
	if password == "" {
		password = c.cfg.DefaultPassword
	}
	if password == "" {
		generated, err := GeneratePassword()
		if err != nil {
			return nil, err
		}
		password = generated
	}

	req := createUserRequest{
		Email:       in.Email,
		Username:    NormalizeUsername(username),
		GivenName:   in.FirstName,
		FamilyName:  in.LastName,
		Name:        strings.TrimSpace(in.FirstName + " " + in.LastName),
		Password:    password,
		Connection:  c.cfg.Connection,
		AppMetadata: Metadata(in.RoleID, in.OrganisationID),
	}

	var user User
	if err := c.do(ctx, c.api, "create_user", http.MethodPost, "/api/v2/users", req, &user); err != nil {
		return nil, err
	}

	log.Info().Str("external_id", user.UserID).Msg("Identity user created")
	return &user, nil
}

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.do(ctx, c.api, "get_user", http.MethodGet, "/api/v2/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser applies a partial update.
func (c *Client) UpdateUser(ctx context.Context, userID string, patch UserPatch) (*User, error) {
	var user User
	if err := c.do(ctx, c.api, "update_user", http.MethodPatch, "/api/v2/users/"+url.PathEscape(userID), patch, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser deletes a user by id.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if err := c.do(ctx, c.api, "delete_user", http.MethodDelete, "/api/v2/users/"+url.PathEscape(userID), nil, nil); err != nil {
		return err
	}
	log.Info().Str("external_id", userID).Msg("Identity user deleted")
	return nil
}

// ListUsers pages through all users.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User

	for page := 0; page < maxPages; page++ {
		q := url.Values{
			"page":           {strconv.Itoa(page)},
			"per_page":       {strconv.Itoa(defaultPageSize)},
			"include_totals": {"true"},
		}

		var resp usersPage
		if err := c.do(ctx, c.api, "list_users", http.MethodGet, "/api/v2/users?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		users = append(users, resp.Users...)
		if len(resp.Users) == 0 || len(users) >= resp.Total {
			break
		}
	}

	return users, nil
}

// ResetPassword starts the provider's password reset e-mail flow.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	req := map[string]string{
		"client_id":  c.cfg.ClientID,
		"email":      email,
		"connection": c.cfg.Connection,
	}
	return c.do(ctx, c.plain, "reset_password", http.MethodPost, "/dbconnections/change_password", req, nil)
}

// ChangePassword sets a user's password directly.
func (c *Client) ChangePassword(ctx context.Context, userID, password string) error {
	if password == "" {
		return apperror.Validation("password is required", map[string]string{"password": "password is required"})
	}
	patch := UserPatch{Password: password, Connection: c.cfg.Connection}
	return c.do(ctx, c.api, "change_password", http.MethodPatch, "/api/v2/users/"+url.PathEscape(userID), patch, nil)
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, op, method, path string, body, out any) error {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.IdentityRequestsTotal.Add(ctx, 1, attrs)

	err := c.roundTrip(ctx, httpClient, method, path, body, out)
	if err != nil {
		m.IdentityErrorsTotal.Add(ctx, 1, attrs)
		log.Debug().Err(err).Str("op", op).Str("method", method).Msg("Identity provider request failed")
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, httpClient *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return apperror.Upstream(retrieveErr.Response.StatusCode, tokenErrorMessage(retrieveErr), nil)
		}
		return apperror.Transport("identity provider unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.Transport("failed to read identity provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperror.Upstream(resp.StatusCode, errorMessage(resp, respBody), nil)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode identity provider response: %w", err)
	}

	return nil
}

func errorMessage(resp *http.Response, body []byte) string {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err == nil {
		for _, msg := range []string{pe.Message, pe.ErrorDescription, pe.Description, pe.Error} {
			if msg != "" {
				return msg
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}

	return http.StatusText(resp.StatusCode)
}

func tokenErrorMessage(err *oauth2.RetrieveError) string {
	if err.ErrorDescription != "" {
		return err.ErrorDescription
	}
	if err.ErrorCode != "" {
		return err.ErrorCode
	}
	return "failed to obtain identity provider token"
}
