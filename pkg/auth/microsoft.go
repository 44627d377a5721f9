package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	"github.com/harrisonrobin/orgsync/pkg/backend"
)

// Microsoft authentication modes.
const (
	ModeApplication = "application" // client credentials, needs admin consent
	ModeDelegated   = "delegated"   // device code flow, user login
)

const graphDefaultScope = "https://graph.microsoft.com/.default"

// Delegated scopes. offline_access yields a refresh token so cron runs can
// keep working between interactive logins.
var delegatedScopes = []string{"Tasks.ReadWrite", "offline_access"}

// MicrosoftClient returns an authenticated HTTP client for the Graph API
// using the configured mode.
func MicrosoftClient(ctx context.Context, mode, clientID, tenantID, clientSecret string, store *TokenStore, allowPrompt bool, logger *log.Logger) (*http.Client, error) {
	switch mode {
	case ModeApplication:
		if clientSecret == "" {
			return nil, &backend.AuthError{Msg: "client secret is required for application mode"}
		}
		cfg := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     microsoft.AzureADEndpoint(tenantID).TokenURL,
			Scopes:       []string{graphDefaultScope},
		}
		logger.Printf("Authenticating using application mode (client credentials)")
		return cfg.Client(ctx), nil
	case ModeDelegated:
		return microsoftDelegatedClient(ctx, clientID, tenantID, store, allowPrompt, logger)
	default:
		return nil, &backend.AuthError{Msg: fmt.Sprintf("invalid auth mode %q, must be %q or %q", mode, ModeApplication, ModeDelegated)}
	}
}

func microsoftDelegatedClient(ctx context.Context, clientID, tenantID string, store *TokenStore, allowPrompt bool, logger *log.Logger) (*http.Client, error) {
	endpoint := microsoft.AzureADEndpoint(tenantID)
	if endpoint.DeviceAuthURL == "" {
		endpoint.DeviceAuthURL = "https://login.microsoftonline.com/" + tenantID + "/oauth2/v2.0/devicecode"
	}
	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: endpoint,
		Scopes:   delegatedScopes,
	}

	tok, err := store.Load("microsoft")
	if err != nil {
		return nil, err
	}
	if tok == nil {
		if !allowPrompt {
			return nil, &backend.AuthError{Msg: "Microsoft authentication required but interactive prompt is disabled (-no-prompt). Run once without -no-prompt to authenticate"}
		}
		tok, err = microsoftDeviceLogin(ctx, cfg, logger)
		if err != nil {
			return nil, &backend.AuthError{Msg: "device code flow failed", Err: err}
		}
		if err := store.Save("microsoft", tok); err != nil {
			return nil, err
		}
	}

	src := &savingSource{
		name:  "microsoft",
		store: store,
		src:   cfg.TokenSource(ctx, tok),
		last:  tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// microsoftDeviceLogin runs the device code flow: show the verification URI
// and user code, then poll until the user completes sign-in.
func microsoftDeviceLogin(ctx context.Context, cfg *oauth2.Config, logger *log.Logger) (*oauth2.Token, error) {
	resp, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start device flow: %w", err)
	}

	fmt.Println()
	fmt.Println("AUTHENTICATION REQUIRED")
	fmt.Printf("Open %s and enter the code: %s\n", resp.VerificationURI, resp.UserCode)
	fmt.Println("Waiting for authentication...")

	tok, err := cfg.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("device flow did not complete: %w", err)
	}
	logger.Printf("Authenticated using delegated mode (device code flow)")
	return tok, nil
}
