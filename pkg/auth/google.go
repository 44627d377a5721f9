package auth

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/harrisonrobin/orgsync/pkg/backend"
)

// LocalhostAuthPort is the port the local callback server listens on to
// capture the OAuth redirect during interactive Google authorization.
const LocalhostAuthPort = "6789"

// GoogleClient returns an authenticated HTTP client for the Google Tasks
// API. A stored token is used and refreshed transparently; when no token
// exists an interactive browser flow runs, unless prompting is disabled, in
// which case a backend.AuthError is returned (the cron case).
func GoogleClient(ctx context.Context, clientID, clientSecret string, scopes []string, store *TokenStore, allowPrompt bool, logger *log.Logger) (*http.Client, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort),
		Scopes:       scopes,
	}

	tok, err := store.Load("google")
	if err != nil {
		return nil, err
	}
	if tok == nil {
		if !allowPrompt {
			return nil, &backend.AuthError{Msg: "Google authentication required but interactive prompt is disabled (-no-prompt). Run once without -no-prompt to authenticate"}
		}
		logger.Printf("No stored Google token. Initiating web authorization flow...")
		tok, err = googleTokenFromWeb(ctx, cfg)
		if err != nil {
			return nil, &backend.AuthError{Msg: "Google authorization flow failed", Err: err}
		}
		if err := store.Save("google", tok); err != nil {
			return nil, err
		}
	}

	src := &savingSource{
		name:  "google",
		store: store,
		src:   cfg.TokenSource(ctx, tok),
		last:  tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// googleTokenFromWeb runs the authorization code flow via a local callback
// server: print the consent URL, capture the redirect, exchange the code.
func googleTokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", ":"+LocalhostAuthPort)
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				errCh <- fmt.Errorf("authorization code not found in redirect URL")
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			codeCh <- code
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Please open the following URL in your browser to authorize orgsync:\n%s\n", authURL)

	select {
	case code := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(exchangeCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to exchange authorization code: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
