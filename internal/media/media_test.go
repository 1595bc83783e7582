package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizeAppName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"tuonane", "tuonane"},
		{"tuonane.metered.live", "tuonane"},
		{"  tuonane.metered.live ", "tuonane"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeAppName(tc.in); got != tc.want {
			t.Errorf("normalizeAppName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewMeteredProviderValidation(t *testing.T) {
	if _, err := NewMeteredProvider(MeteredConfig{AppName: "", SecretKey: "k"}); err == nil {
		t.Error("expected error for empty app name")
	}
	if _, err := NewMeteredProvider(MeteredConfig{AppName: "app", SecretKey: ""}); err == nil {
		t.Error("expected error for empty secret key")
	}
	p, err := NewMeteredProvider(MeteredConfig{AppName: "app.metered.live", SecretKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.appName != "app" {
		t.Errorf("appName = %q, want %q", p.appName, "app")
	}
}

func TestMeteredProvisionRoom(t *testing.T) {
	var gotPath, gotSecret string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSecret = r.URL.Query().Get("secretKey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"roomName":"call-1"}`))
	}))
	defer srv.Close()

	p, err := NewMeteredProvider(MeteredConfig{AppName: "app", SecretKey: "sekret", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Point the provider at the test server instead of metered.live.
	p.client = srv.Client()
	p.client.Transport = rewriteTransport{base: srv.Client().Transport, target: srv.URL}

	room, err := p.ProvisionRoom(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("ProvisionRoom: %v", err)
	}
	if room.RoomName != "call-1" || room.AppName != "app" {
		t.Errorf("room = %+v", room)
	}
	if gotPath != "/api/v1/room" {
		t.Errorf("path = %q", gotPath)
	}
	if gotSecret != "sekret" {
		t.Errorf("secretKey = %q", gotSecret)
	}
	if gotBody["roomName"] != "call-1" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestMeteredProvisionRoomFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad secret", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := NewMeteredProvider(MeteredConfig{AppName: "app", SecretKey: "wrong"})
	p.client = srv.Client()
	p.client.Transport = rewriteTransport{base: srv.Client().Transport, target: srv.URL}

	_, err := p.ProvisionRoom(context.Background(), "call-1")
	if !errors.Is(err, ErrRoomProvisioning) {
		t.Fatalf("err = %v, want ErrRoomProvisioning", err)
	}
}

func TestMeteredJoinUnsupported(t *testing.T) {
	p, _ := NewMeteredProvider(MeteredConfig{AppName: "app", SecretKey: "k"})
	if _, err := p.Join(context.Background(), JoinRequest{RoomName: "r"}); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

// rewriteTransport redirects any request to the test server, keeping the path.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := req.URL
	stripped := strings.TrimPrefix(t.target, "http://")
	u.Scheme = "http"
	u.Host = stripped
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func TestFakeSessionLifecycle(t *testing.T) {
	p := NewFakeProvider("app")
	room, err := p.ProvisionRoom(context.Background(), "call-9")
	if err != nil {
		t.Fatalf("ProvisionRoom: %v", err)
	}
	sess, err := p.Join(context.Background(), JoinRequest{RoomName: room.RoomName, AppName: room.AppName, DisplayName: "alice"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	fake := sess.(*FakeSession)

	fake.Emit(Event{Kind: EventRemoteTrackStarted, Track: TrackVideo})
	ev := <-sess.Events()
	if ev.Kind != EventRemoteTrackStarted || ev.Track != TrackVideo {
		t.Errorf("event = %+v", ev)
	}

	if err := sess.SetAudioEnabled(context.Background(), false); err != nil {
		t.Fatalf("SetAudioEnabled: %v", err)
	}
	if fake.AudioEnabled() {
		t.Error("audio should be muted")
	}

	if err := sess.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !fake.Left() {
		t.Error("session should be left")
	}
	// Channel closes on leave so consumers unblock.
	if _, ok := <-sess.Events(); ok {
		t.Error("events channel should be closed")
	}
	// Leave twice is fine, mute after leave is not.
	if err := sess.Leave(context.Background()); err != nil {
		t.Errorf("second Leave: %v", err)
	}
	if err := sess.SetVideoEnabled(context.Background(), false); err == nil {
		t.Error("expected error toggling video after leave")
	}
}
