//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseURL = getEnv("GATEKIT_API_URL", "http://127.0.0.1:8080")
	apiBase = baseURL + "/api/v1"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

type TestClient struct {
	httpClient  *http.Client
	accessToken string
}

func NewTestClient() *TestClient {
	return &TestClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *TestClient) Do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	return c.httpClient.Do(req)
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func TestE2E_Workflows(t *testing.T) {
	// State shared between subtests
	var (
		userEmail    = fmt.Sprintf("e2e-%d@gatekit.local", time.Now().Unix())
		userPassword = "E2e_password1!"
		tokens       tokenPair
	)

	// 1. Account Lifecycle Flow
	t.Run("Account Lifecycle Flow", func(t *testing.T) {
		client := NewTestClient()

		resp, err := client.Do("POST", apiBase+"/auth/register", map[string]string{
			"name":     "E2E User",
			"email":    userEmail,
			"password": userPassword,
		})
		require.NoError(t, err)
		t.Logf("Registration status: %d", resp.StatusCode)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp, err = client.Do("POST", apiBase+"/auth/login", map[string]string{
			"email":    userEmail,
			"password": userPassword,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeJSON(t, resp, &tokens)
		require.NotEmpty(t, tokens.AccessToken)
		require.NotEmpty(t, tokens.RefreshToken)

		client.accessToken = tokens.AccessToken
		resp, err = client.Do("GET", apiBase+"/auth/me", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var me struct {
			Email string `json:"email"`
		}
		decodeJSON(t, resp, &me)
		assert.Equal(t, userEmail, me.Email)
	})

	// 2. Refresh Rotation Flow
	t.Run("Refresh Rotation Flow", func(t *testing.T) {
		require.NotEmpty(t, tokens.RefreshToken)
		client := NewTestClient()

		resp, err := client.Do("POST", apiBase+"/auth/refresh", map[string]string{
			"refresh_token": tokens.RefreshToken,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var rotated tokenPair
		decodeJSON(t, resp, &rotated)
		require.NotEmpty(t, rotated.RefreshToken)
		assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

		// Replaying the consumed token must revoke the whole family
		resp, err = client.Do("POST", apiBase+"/auth/refresh", map[string]string{
			"refresh_token": tokens.RefreshToken,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()

		resp, err = client.Do("POST", apiBase+"/auth/refresh", map[string]string{
			"refresh_token": rotated.RefreshToken,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()

		t.Log("Reuse detection revoked the session family")

		// Sign back in for the remaining flows
		resp, err = client.Do("POST", apiBase+"/auth/login", map[string]string{
			"email":    userEmail,
			"password": userPassword,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeJSON(t, resp, &tokens)
	})

	// 3. Password Reset Flow
	t.Run("Password Reset Flow", func(t *testing.T) {
		client := NewTestClient()

		// The endpoint must answer identically for known and unknown accounts
		for _, email := range []string{userEmail, "nobody@gatekit.local"} {
			resp, err := client.Do("POST", apiBase+"/auth/password/reset-request", map[string]string{
				"email": email,
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode, email)
			resp.Body.Close()
		}

		resp, err := client.httpClient.Get(apiBase + "/auth/password/reset/validate?token=bogus")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var validity struct {
			Valid bool `json:"valid"`
		}
		decodeJSON(t, resp, &validity)
		assert.False(t, validity.Valid)
	})

	// 4. Key Discovery Flow
	t.Run("Key Discovery Flow", func(t *testing.T) {
		client := NewTestClient()

		resp, err := client.httpClient.Get(baseURL + "/.well-known/jwks.json")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age")

		var jwks struct {
			Keys []map[string]any `json:"keys"`
		}
		decodeJSON(t, resp, &jwks)
		assert.NotEmpty(t, jwks.Keys)
		t.Log("Verified JWKS endpoint")
	})

	// 5. Machine Client Flow
	// Requires a pre-registered service client; skipped unless credentials
	// are provided via GATEKIT_E2E_CLIENT_ID / GATEKIT_E2E_CLIENT_SECRET /
	// GATEKIT_E2E_AUDIENCE.
	t.Run("Machine Client Flow", func(t *testing.T) {
		clientID := os.Getenv("GATEKIT_E2E_CLIENT_ID")
		clientSecret := os.Getenv("GATEKIT_E2E_CLIENT_SECRET")
		audience := os.Getenv("GATEKIT_E2E_AUDIENCE")
		if clientID == "" || clientSecret == "" || audience == "" {
			t.Skip("service client credentials not configured")
		}

		data := url.Values{}
		data.Set("grant_type", "client_credentials")
		data.Set("audience", audience)

		req, _ := http.NewRequest("POST", baseURL+"/oauth/token", strings.NewReader(data.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(clientID, clientSecret)

		resp, err := NewTestClient().httpClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var tokenResp struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
		}
		decodeJSON(t, resp, &tokenResp)
		assert.NotEmpty(t, tokenResp.AccessToken)
		assert.Equal(t, "Bearer", tokenResp.TokenType)
		t.Log("Obtained service token via client_credentials")
	})
}
