package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
)

// API paths relative to the configured base URL.
const (
	pathLogin          = "/passport/login"
	pathDeviceList     = "/app/get_devs_list"
	pathHubList        = "/app/get_hub_list"
	pathRegisterPush   = "/apppush/register_push_token"
	pathCheckPushToken = "/apppush/check_push_token"
)

// Vendor result codes.
const (
	codeOK             = 0
	codeTokenExpired   = 26050
	codeWrongPassword  = 26006
	codeAccountUnknown = 26053
)

const maxResponseBytes = 4 << 20

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to the vendor cloud HTTP API.
//
// The session token is obtained lazily and renewed transparently once when
// the API reports it expired. All methods are safe for concurrent use.
type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string

	mu      sync.Mutex
	session Session

	logger Logger
	now    func() time.Time
}

// NewClient creates a client from the eufy configuration section.
func NewClient(cfg config.EufyConfig) *Client {
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Session returns the current session, which may be empty.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Authenticate logs in with the configured credentials and stores the session.
//
// Returns:
//   - Session: the new session
//   - error: ErrAuthentication when the credentials are rejected, ErrNetwork
//     for transport failures
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	var data loginData
	code, err := c.post(ctx, pathLogin, "", loginRequest{Email: c.username, Password: c.password}, &data)
	if err != nil {
		return Session{}, err
	}
	switch code {
	case codeOK:
	case codeWrongPassword, codeAccountUnknown:
		return Session{}, fmt.Errorf("%w: code %d", ErrAuthentication, code)
	default:
		return Session{}, fmt.Errorf("%w: login code %d", ErrAuthentication, code)
	}
	if data.AuthToken == "" {
		return Session{}, fmt.Errorf("%w: empty token", ErrAuthentication)
	}

	s := Session{Token: data.AuthToken, UserID: data.UserID}
	if data.TokenExpiresAt > 0 {
		s.ExpiresAt = time.Unix(data.TokenExpiresAt, 0)
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.log().Info("authenticated with cloud", "user_id", s.UserID, "expires_at", s.ExpiresAt)
	return s, nil
}

// ListDevices fetches devices and stations and returns them as one inventory.
// Stations carry their LAN address.
func (c *Client) ListDevices(ctx context.Context) (Inventory, error) {
	var devs []deviceEntry
	if err := c.call(ctx, pathDeviceList, struct{}{}, &devs); err != nil {
		return Inventory{}, fmt.Errorf("listing devices: %w", err)
	}
	var hubs []hubEntry
	if err := c.call(ctx, pathHubList, struct{}{}, &hubs); err != nil {
		return Inventory{}, fmt.Errorf("listing stations: %w", err)
	}

	inv := Inventory{FetchedAt: c.now(), Devices: make([]Device, 0, len(devs)+len(hubs))}
	for _, h := range hubs {
		inv.Devices = append(inv.Devices, Device{
			Serial:     h.StationSN,
			Name:       h.StationName,
			Model:      h.StationModel,
			Address:    h.IPAddr,
			Properties: decodeParams(h.Params, h.MainSWVersion),
		})
	}
	for _, d := range devs {
		// Single-unit devices (doorbells, indoor cams) are listed as both
		// a hub and a device; the hub entry already carries the address.
		if d.DeviceSN == d.StationSN && containsHub(hubs, d.DeviceSN) {
			continue
		}
		inv.Devices = append(inv.Devices, Device{
			Serial:        d.DeviceSN,
			Name:          d.DeviceName,
			Model:         d.DeviceModel,
			StationSerial: d.StationSN,
			Properties:    decodeParams(d.Params, d.MainSWVersion),
		})
	}
	return inv, nil
}

func containsHub(hubs []hubEntry, serial string) bool {
	for _, h := range hubs {
		if h.StationSN == serial {
			return true
		}
	}
	return false
}

// RegisterPushToken registers a push notification token for the account.
func (c *Client) RegisterPushToken(ctx context.Context, token string) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return fmt.Errorf("registering push token: %w", err)
	}
	req := pushTokenRequest{IsNotificationEnable: true, Token: token, UserID: session.UserID}
	if err := c.call(ctx, pathRegisterPush, req, nil); err != nil {
		return fmt.Errorf("registering push token: %w", err)
	}
	c.log().Info("registered push token")
	return nil
}

// CheckPushToken asks the cloud whether the registered push token is still valid.
func (c *Client) CheckPushToken(ctx context.Context) error {
	if err := c.call(ctx, pathCheckPushToken, struct{}{}, nil); err != nil {
		return fmt.Errorf("checking push token: %w", err)
	}
	return nil
}

// call performs an authenticated request, logging in first when needed and
// once more when the token turns out to be expired.
func (c *Client) call(ctx context.Context, path string, body, out any) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	code, err := c.post(ctx, path, session.Token, body, out)
	if err != nil && !isExpired(err) {
		return err
	}
	if err != nil || code == codeTokenExpired {
		c.log().Info("cloud session expired, logging in again")
		if session, err = c.Authenticate(ctx); err != nil {
			return err
		}
		code, err = c.post(ctx, path, session.Token, body, out)
		if err != nil {
			if isExpired(err) {
				return ErrTokenExpired
			}
			return err
		}
		if code == codeTokenExpired {
			return ErrTokenExpired
		}
	}
	if code != codeOK {
		return fmt.Errorf("%w: %s returned code %d", ErrAPI, path, code)
	}
	return nil
}

func (c *Client) ensureSession(ctx context.Context) (Session, error) {
	if s := c.Session(); s.Valid(c.now()) {
		return s, nil
	}
	return c.Authenticate(ctx)
}

// errUnauthorized marks an HTTP 401 inside post; call maps it to a re-login.
type errUnauthorized struct{}

func (errUnauthorized) Error() string { return "cloud: unauthorized" }

func isExpired(err error) bool {
	_, ok := err.(errUnauthorized) //nolint:errorlint // Never wrapped
	return ok
}

// post sends body as JSON and decodes the envelope's data into out.
// It returns the vendor result code.
func (c *Client) post(ctx context.Context, path, token string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrNetwork, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	c.log().Debug("cloud request", "path", path, "status", resp.StatusCode, "duration", c.now().Sub(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, errUnauthorized{}
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: %s: status %d", ErrNetwork, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return 0, fmt.Errorf("%w: %s: status %d", ErrAPI, path, resp.StatusCode)
	}

	var env envelope
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if err := dec.Decode(&env); err != nil {
		return 0, fmt.Errorf("%w: decoding %s response: %w", ErrAPI, path, err)
	}

	if env.Code == codeOK && out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		d := json.NewDecoder(bytes.NewReader(env.Data))
		d.UseNumber()
		if err := d.Decode(out); err != nil {
			return 0, fmt.Errorf("%w: decoding %s data: %w", ErrAPI, path, err)
		}
	}
	return env.Code, nil
}
