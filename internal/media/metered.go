package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MeteredProvider provisions rooms on a Metered.live video app over its REST API.
//
// Join is intentionally unsupported here: joining is a WebRTC endpoint concern (the
// clients run the Metered SDK); the service only owns room provisioning. Controllers
// that need an in-process session (tests, headless bots) use a different Provider.
type MeteredProvider struct {
	appName   string
	secretKey string
	client    *http.Client
}

type MeteredConfig struct {
	// AppName accepts either "tuonane" or "tuonane.metered.live".
	AppName   string
	SecretKey string
	Timeout   time.Duration
}

func NewMeteredProvider(cfg MeteredConfig) (*MeteredProvider, error) {
	app := normalizeAppName(cfg.AppName)
	if app == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("media: metered app name and secret key are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MeteredProvider{
		appName:   app,
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// normalizeAppName strips a full "x.metered.live" host down to the app name.
func normalizeAppName(appNameOrHost string) string {
	s := strings.TrimSpace(appNameOrHost)
	return strings.TrimSuffix(s, ".metered.live")
}

func (p *MeteredProvider) Name() string { return "metered" }

func (p *MeteredProvider) baseURL() string {
	return fmt.Sprintf("https://%s.metered.live/api/v1", p.appName)
}

func (p *MeteredProvider) HealthCheck(ctx context.Context) error {
	// The room listing endpoint doubles as a credentials check.
	endpoint := fmt.Sprintf("%s/rooms?secretKey=%s", p.baseURL(), url.QueryEscape(p.secretKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media: metered health check: status %d", resp.StatusCode)
	}
	return nil
}

func (p *MeteredProvider) ProvisionRoom(ctx context.Context, roomName string) (Room, error) {
	if roomName == "" {
		return Room{}, fmt.Errorf("%w: room name required", ErrRoomProvisioning)
	}

	body, err := json.Marshal(map[string]string{"roomName": roomName})
	if err != nil {
		return Room{}, err
	}

	endpoint := fmt.Sprintf("%s/room?secretKey=%s", p.baseURL(), url.QueryEscape(p.secretKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Room{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrRoomProvisioning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Room{}, fmt.Errorf("%w: status %d: %s", ErrRoomProvisioning, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return Room{RoomName: roomName, AppName: p.appName}, nil
}

func (p *MeteredProvider) Join(ctx context.Context, req JoinRequest) (Session, error) {
	return nil, ErrNotSupported
}
