package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/platform-gateway/internal/apperror"
)

// fakeProvider is an in-memory management API.
type fakeProvider struct {
	t *testing.T

	tokenCalls atomic.Int32

	mu       sync.Mutex
	users    map[string]map[string]any
	requests []string
	resets   []map[string]string
	nextID   int
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	t.Helper()
	p := &fakeProvider{t: t, users: map[string]map[string]any{}}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.URL.Path == "/oauth/token":
		p.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("client_secret") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"access_denied","error_description":"Unauthorized"}`)
			return
		}
		if r.PostForm.Get("audience") != "https://tenant.example.com/api/v2/" || r.PostForm.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad token request", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "mgmt-token", "token_type": "Bearer", "expires_in": 86400})
		return

	case r.URL.Path == "/dbconnections/change_password":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.resets = append(p.resets, body)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `"We've just sent you an email to reset your password."`)
		return
	}

	if r.Header.Get("Authorization") != "Bearer mgmt-token" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"statusCode": 401, "error": "Unauthorized", "message": "Missing authentication"})
		return
	}

	id, hasID := strings.CutPrefix(r.URL.Path, "/api/v2/users/")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v2/users":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, u := range p.users {
			if u["email"] == body["email"] {
				writeJSON(w, http.StatusConflict, map[string]any{"statusCode": 409, "error": "Conflict", "message": "The user already exists."})
				return
			}
		}
		p.nextID++
		body["user_id"] = fmt.Sprintf("auth0|%d", p.nextID)
		delete(body, "password")
		p.users[body["user_id"].(string)] = body
		writeJSON(w, http.StatusCreated, body)

	case r.Method == http.MethodGet && r.URL.Path == "/api/v2/users":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		var all []map[string]any
		for i := 1; i <= p.nextID; i++ {
			if u, ok := p.users[fmt.Sprintf("auth0|%d", i)]; ok {
				all = append(all, u)
			}
		}
		start := min(page*perPage, len(all))
		end := min(start+perPage, len(all))
		writeJSON(w, http.StatusOK, map[string]any{"start": start, "limit": perPage, "length": end - start, "total": len(all), "users": all[start:end]})

	case hasID && r.Method == http.MethodGet:
		u, ok := p.users[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"statusCode": 404, "error": "Not Found", "message": "The user does not exist.", "errorCode": "inexistent_user"})
			return
		}
		writeJSON(w, http.StatusOK, u)

	case hasID && r.Method == http.MethodPatch:
		u, ok := p.users[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"statusCode": 404, "message": "The user does not exist."})
			return
		}
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		for k, v := range patch {
			if k == "app_metadata" {
				md, _ := u["app_metadata"].(map[string]any)
				if md == nil {
					md = map[string]any{}
				}
				for mk, mv := range v.(map[string]any) {
					md[mk] = mv
				}
				u["app_metadata"] = md
				continue
			}
			if k == "password" || k == "connection" {
				continue
			}
			u[k] = v
		}
		writeJSON(w, http.StatusOK, u)

	case hasID && r.Method == http.MethodDelete:
		delete(p.users, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.Domain = "tenant.example.com"
	cfg.BaseURL = srv.URL
	cfg.ClientID = "client"
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = "secret"
	}
	cfg.Connection = "Username-Password-Authentication"
	return New(context.Background(), cfg, srv.Client())
}

func TestCreateUser(t *testing.T) {
	p, srv := newFakeProvider(t)
	client := newTestClient(t, srv, Config{DefaultPassword: "Default-Passw0rd!"})

	user, err := client.CreateUser(context.Background(), CreateUserInput{
		Email:          "a@b.com",
		FirstName:      "Ada",
		LastName:       "Lovelace",
		RoleID:         "r1",
		OrganisationID: "o1",
	})
	require.NoError(t, err)
	require.Equal(t, "auth0|1", user.UserID)
	require.Equal(t, "a.b.com", user.Username)
	require.Equal(t, "Ada", user.GivenName)
	require.Equal(t, map[string]any{"roleId": "r1", "organisationId": "o1"}, user.AppMetadata)

	t.Run("conflict surfaces provider status and message", func(t *testing.T) {
		_, err := client.CreateUser(context.Background(), CreateUserInput{Email: "a@b.com", FirstName: "A", LastName: "B"})
		appErr, ok := apperror.As(err)
		require.True(t, ok)
		require.Equal(t, apperror.KindUpstream, appErr.Kind)
		require.Equal(t, http.StatusConflict, appErr.HTTPStatus())
		require.Equal(t, "The user already exists.", appErr.Message)
	})

	t.Run("missing required fields fail before any request", func(t *testing.T) {
		p.mu.Lock()
		before := len(p.requests)
		p.mu.Unlock()

		_, err := client.CreateUser(context.Background(), CreateUserInput{Email: "not-an-email"})
		require.Equal(t, apperror.KindValidation, apperror.KindOf(err))

		p.mu.Lock()
		require.Len(t, p.requests, before)
		p.mu.Unlock()
	})

	require.Equal(t, int32(1), p.tokenCalls.Load(), "token is reused until expiry")
}

func TestCreateUserPasswordFallback(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "t", "token_type": "Bearer", "expires_in": 3600})
			return
		}
		var body createUserRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen = append(seen, body.Password)
		writeJSON(w, http.StatusCreated, map[string]any{"user_id": "auth0|x"})
	}))
	defer srv.Close()

	in := CreateUserInput{Email: "a@b.com", FirstName: "A", LastName: "B"}

	withDefault := newTestClient(t, srv, Config{DefaultPassword: "Default-Passw0rd!"})
	_, err := withDefault.CreateUser(context.Background(), CreateUserInput{Email: in.Email, FirstName: "A", LastName: "B", Password: "Explicit-1!"})
	require.NoError(t, err)
	_, err = withDefault.CreateUser(context.Background(), in)
	require.NoError(t, err)

	generated := newTestClient(t, srv, Config{})
	_, err = generated.CreateUser(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	require.Equal(t, "Explicit-1!", seen[0])
	require.Equal(t, "Default-Passw0rd!", seen[1])
	require.Len(t, seen[2], generatedPasswordLength)
}

func TestUserLifecycle(t *testing.T) {
	_, srv := newFakeProvider(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	created, err := client.CreateUser(ctx, CreateUserInput{Email: "c@d.com", FirstName: "C", LastName: "D", RoleID: "r1"})
	require.NoError(t, err)

	given := "Carol"
	updated, err := client.UpdateUser(ctx, created.UserID, UserPatch{GivenName: &given, AppMetadata: map[string]any{"roleId": "r2"}})
	require.NoError(t, err)
	require.Equal(t, "Carol", updated.GivenName)
	require.Equal(t, "D", updated.FamilyName)
	require.Equal(t, "r2", updated.AppMetadata["roleId"])

	got, err := client.GetUser(ctx, created.UserID)
	require.NoError(t, err)
	require.Equal(t, "Carol", got.GivenName)

	require.NoError(t, client.ChangePassword(ctx, created.UserID, "N3w-Password!"))
	require.Equal(t, apperror.KindValidation, apperror.KindOf(client.ChangePassword(ctx, created.UserID, "")))

	require.NoError(t, client.DeleteUser(ctx, created.UserID))

	_, err = client.GetUser(ctx, created.UserID)
	require.True(t, apperror.IsStatus(err, http.StatusNotFound))
}

func TestListUsersPages(t *testing.T) {
	p, srv := newFakeProvider(t)
	client := newTestClient(t, srv, Config{})

	for i := range 120 {
		_, err := client.CreateUser(context.Background(), CreateUserInput{Email: fmt.Sprintf("u%d@example.com", i), FirstName: "U", LastName: "X"})
		require.NoError(t, err)
	}

	users, err := client.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 120)
	require.Equal(t, "auth0|1", users[0].UserID)
	require.Equal(t, "auth0|120", users[119].UserID)

	var listCalls int
	p.mu.Lock()
	for _, r := range p.requests {
		if r == "GET /api/v2/users" {
			listCalls++
		}
	}
	p.mu.Unlock()
	require.Equal(t, 3, listCalls)
}

func TestResetPassword(t *testing.T) {
	p, srv := newFakeProvider(t)
	client := newTestClient(t, srv, Config{})

	require.NoError(t, client.ResetPassword(context.Background(), "a@b.com"))

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.resets, 1)
	require.Equal(t, map[string]string{
		"client_id":  "client",
		"email":      "a@b.com",
		"connection": "Username-Password-Authentication",
	}, p.resets[0])
	require.Equal(t, int32(0), p.tokenCalls.Load())
}

func TestTokenFailure(t *testing.T) {
	_, srv := newFakeProvider(t)
	client := newTestClient(t, srv, Config{ClientSecret: "wrong"})

	_, err := client.GetUser(context.Background(), "auth0|1")
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	require.Equal(t, apperror.KindUpstream, appErr.Kind)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus())
	require.Equal(t, "Unauthorized", appErr.Message)
}

func TestUnreachableProvider(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := New(context.Background(), Config{Domain: "tenant.example.com", BaseURL: srv.URL}, nil)
	err := client.ResetPassword(context.Background(), "a@b.com")
	require.Equal(t, apperror.KindTransport, apperror.KindOf(err))
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "a@b.com", want: "a.b.com"},
		{in: "plain", want: "plain"},
		{in: "a@@b", want: "a..b"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			once := NormalizeUsername(tt.in)
			require.Equal(t, tt.want, once)
			require.Equal(t, once, NormalizeUsername(once))
			require.NotContains(t, once, "@")
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		pw, err := GeneratePassword()
		require.NoError(t, err)
		require.Len(t, pw, generatedPasswordLength)
		require.True(t, strings.ContainsAny(pw, lowerChars))
		require.True(t, strings.ContainsAny(pw, upperChars))
		require.True(t, strings.ContainsAny(pw, digitChars))
		require.True(t, strings.ContainsAny(pw, specialChars))
		require.False(t, seen[pw])
		seen[pw] = true
	}
}
