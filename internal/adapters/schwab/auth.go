package schwab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// tokenResponse es la respuesta del endpoint OAuth.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// Refresh implementa ports.AuthEndpoint: grant_type=refresh_token.
// Si el venue no devuelve un refresh token nuevo se conserva el anterior.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	tok, err := c.tokenRequest(ctx, form)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("schwab.Refresh: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// Exchange canjea el authorization code del login manual por un TokenSet.
func (c *Client) Exchange(ctx context.Context, code string) (domain.TokenSet, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	}
	tok, err := c.tokenRequest(ctx, form)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("schwab.Exchange: %w", err)
	}
	return tok, nil
}

// Validate implementa ports.AuthEndpoint con una lectura autenticada barata.
// Usa el token recibido y no el del TokenSource: se valida antes de persistir.
func (c *Client) Validate(ctx context.Context, accessToken string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("schwab.Validate: rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/accounts/accountNumbers", nil)
	if err != nil {
		return fmt.Errorf("schwab.Validate: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("schwab.Validate: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("schwab.Validate: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// AuthorizeURL devuelve la URL que el operador abre para el login manual.
func (c *Client) AuthorizeURL() string {
	q := url.Values{
		"client_id":    {c.cfg.ClientID},
		"redirect_uri": {c.cfg.RedirectURI},
	}
	return c.cfg.AuthorizeURL + "?" + q.Encode()
}

// CodeFromRedirect extrae el parámetro code de la URL a la que redirigió el login.
func CodeFromRedirect(redirected string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(redirected))
	if err != nil {
		return "", fmt.Errorf("schwab.CodeFromRedirect: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("schwab.CodeFromRedirect: no code parameter in %q", redirected)
	}
	return code, nil
}

// tokenRequest hace el POST form con basic auth. 4xx se clasifica como rechazo,
// todo lo demás como fallo transitorio para que el llamador decida reintentar.
func (c *Client) tokenRequest(ctx context.Context, form url.Values) (domain.TokenSet, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.TokenSet{}, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.TokenSet{}, err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.TokenSet{}, err
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return domain.TokenSet{}, fmt.Errorf("token endpoint: server error %d", resp.StatusCode)
	}
	if err := checkStatus(resp); err != nil {
		return domain.TokenSet{}, err
	}
	defer resp.Body.Close()

	var raw tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.TokenSet{}, fmt.Errorf("decode token response: %w", err)
	}
	if raw.AccessToken == "" {
		return domain.TokenSet{}, fmt.Errorf("%w: empty access_token", domain.ErrAuthRejected)
	}

	now := c.now().UTC()
	expiresIn := time.Duration(raw.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 30 * time.Minute
	}
	return domain.TokenSet{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    now.Add(expiresIn),
		Scope:        raw.Scope,
	}, nil
}
