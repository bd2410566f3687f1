// Package wirechat talks to a remote wirechat server: REST for login and the
// room directory, one websocket per bot for real-time traffic.
package wirechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// Config points the client at a wirechat server.
type Config struct {
	// BaseURL is the REST root, e.g. http://localhost:8080.
	BaseURL string
	// WSURL is the websocket endpoint; derived from BaseURL when empty.
	WSURL       string
	HTTPTimeout time.Duration
}

// Client implements core.Authenticator, core.RoomDirectory and core.Transport
// against one wirechat server.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zerolog.Logger
}

var (
	_ core.Authenticator = (*Client)(nil)
	_ core.RoomDirectory = (*Client)(nil)
	_ core.Transport     = (*Client)(nil)
)

// New creates a wirechat client.
func New(cfg Config, logger *zerolog.Logger) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.BaseURL)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		log:  logger,
	}
}

func deriveWSURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type roomResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// tokenClaims is the subset of the server's claims the client reads.
type tokenClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticate implements core.Authenticator via POST /api/login.
// Chat events only carry usernames, so the account id is the username.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*core.Account, error) {
	var resp authResponse
	status, err := c.do(ctx, http.MethodPost, "/api/login", "", loginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return nil, core.Wrap(core.ErrAuthFailed, err, "")
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return nil, core.Wrap(core.ErrAuthFailed, nil, "login returned no token")
	}

	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, claims); err != nil {
		return nil, core.Wrap(core.ErrAuthFailed, err, "unreadable token")
	}
	name := claims.Username
	if name == "" {
		name = username
	}

	c.log.Debug().Str("bot", name).Int64("user_id", claims.UserID).Msg("wirechat login ok")
	return &core.Account{ID: name, Username: name, Token: resp.Token}, nil
}

// FetchByID implements core.RoomDirectory. The server has no single-room
// endpoint, so the room list is scanned.
func (c *Client) FetchByID(ctx context.Context, account *core.Account, id string) (*core.RoomInfo, error) {
	rooms, err := c.listRooms(ctx, account)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		if r.ID == strings.TrimSpace(id) {
			return &r, nil
		}
	}
	return nil, core.Wrap(core.ErrRoomNotFound, nil, fmt.Sprintf("room %q not found", id))
}

// SearchByName implements core.RoomDirectory with a case-insensitive substring match.
func (c *Client) SearchByName(ctx context.Context, account *core.Account, name string, limit int) ([]core.RoomInfo, error) {
	rooms, err := c.listRooms(ctx, account)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(name))
	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		if !strings.Contains(strings.ToLower(r.Name), q) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *Client) listRooms(ctx context.Context, account *core.Account) ([]core.RoomInfo, error) {
	token := ""
	if account != nil {
		token = account.Token
	}
	var rooms []roomResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/rooms", token, nil, &rooms); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, core.RoomInfo{
			ID:      strconv.FormatInt(r.ID, 10),
			Name:    r.Name,
			Privacy: r.Type,
		})
	}
	return out, nil
}

// do sends a JSON request and decodes a JSON response into out.
// It returns the HTTP status alongside any error.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	u, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return 0, fmt.Errorf("build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
