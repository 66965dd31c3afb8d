package api_test

import (
	"net/http"
	"testing"

	"github.com/nwvaras/lebrely-backend/internal/api"
	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/email"
	"github.com/nwvaras/lebrely-backend/internal/testutil"
)

const apiPrefix = "/api/v1"

// setupAPI serves the full router against env. Rate limits are lifted so
// tests can make many auth calls from one address.
func setupAPI(t *testing.T, env *testutil.TestEnvironment, mailer email.Service) *testutil.TestServer {
	t.Helper()
	return setupAPIWithConfig(t, env, mailer, api.Config{
		AuthRateLimitRPS:   1000,
		AuthRateLimitBurst: 1000,
	})
}

func setupAPIWithConfig(t *testing.T, env *testutil.TestEnvironment, mailer email.Service, config api.Config) *testutil.TestServer {
	t.Helper()

	authService := auth.NewService(env.DB, mailer, auth.Config{FrontendURL: "http://localhost:3000"})
	server := api.NewServer(env.DB, authService, env.Storage, config)
	t.Cleanup(server.Close)

	return testutil.StartTestServer(t, env, server.SetupRoutes())
}

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         struct {
		ID        int64   `json:"id"`
		Email     string  `json:"email"`
		Name      string  `json:"name"`
		IsActive  bool    `json:"is_active"`
		IsAdmin   bool    `json:"is_admin"`
		AvatarURL *string `json:"avatar_url"`
	} `json:"user"`
}

func signIn(t *testing.T, client *testutil.TestClient, emailAddr, password string) tokenBody {
	t.Helper()

	resp, err := client.Post(apiPrefix+"/auth/signin", map[string]string{
		"email":    emailAddr,
		"password": password,
	})
	if err != nil {
		t.Fatalf("signin request failed: %v", err)
	}
	testutil.RequireStatus(t, resp, http.StatusOK)

	var body tokenBody
	testutil.ParseJSON(t, resp, &body)
	return body
}
