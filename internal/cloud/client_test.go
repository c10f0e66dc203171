package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.CloudConfig{
		Address:    server.URL,
		AppKey:     "test-app-key",
		AppSecret:  "test-app-secret",
		Phone:      "13800000000",
		Password:   "secret",
		Timeout:    2,
		MaxRetries: 2,
	}
	house := config.HouseConfig{HouseNo: "house-1", HouseName: "Test House"}
	return NewClient(cfg, house, logging.Default()), server
}

func writeEnvelope(w http.ResponseWriter, code Code, data any) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(Response{Code: code, Data: raw})
}

func TestCanonicalQuery(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
		want  string
	}{
		{
			name:  "sorted keys",
			query: url.Values{"b": []string{"2"}, "a": []string{"1"}},
			want:  "a=1&b=2",
		},
		{
			name:  "whitespace stripped",
			query: url.Values{"houseNo": []string{"h 1\t"}},
			want:  "houseNo=h1",
		},
		{
			name:  "empty",
			query: url.Values{},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canonicalQuery(tt.query); got != tt.want {
				t.Errorf("canonicalQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestCarriesSignedHeaders(t *testing.T) {
	var gotHeaders http.Header
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		writeEnvelope(w, CodeSuccess, map[string]any{"floors": []FloorInfo{}})
	}))

	if _, err := client.Floors(context.Background()); err != nil {
		t.Fatalf("Floors: %v", err)
	}

	for _, h := range []string{"Appkey", "Time", "Sign"} {
		if gotHeaders.Get(h) == "" {
			t.Errorf("request missing %s header", h)
		}
	}
	if gotHeaders.Get("appkey") != "test-app-key" {
		t.Errorf("appkey = %q", gotHeaders.Get("appkey"))
	}
}

func TestLoginStoresTokens(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeEnvelope(w, CodeSuccess, TokenInfo{
			AccessToken:           "at-1",
			RefreshToken:          "rt-1",
			AccessTokenExpireTime: "2026-09-10 12:00:00",
		})
	}))

	var notified []TokenInfo
	client.OnTokenChange(func(info TokenInfo) {
		notified = append(notified, info)
	})

	resp, err := client.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("Login code = %s", resp.Code)
	}
	if client.AccessToken() != "at-1" {
		t.Errorf("AccessToken = %q", client.AccessToken())
	}
	if client.TokenExpiry().IsZero() {
		t.Error("token expiry not parsed")
	}
	if len(notified) != 1 || notified[0].RefreshToken != "rt-1" {
		t.Errorf("token listener notifications = %+v", notified)
	}
}

func TestLoginRejectionIsNotAnError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, CodeLoginError, nil)
	}))

	resp, err := client.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Code != CodeLoginError {
		t.Errorf("code = %s, want %s", resp.Code, CodeLoginError)
	}
}

func TestUnreachablePlatformYieldsSentinelCode(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	resp, err := client.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !resp.Code.Retriable() {
		t.Errorf("code = %s, want a retriable sentinel", resp.Code)
	}
}

func TestMalformedResponseYieldsSysError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))

	resp, err := client.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Code != CodeSysError {
		t.Errorf("code = %s, want %s", resp.Code, CodeSysError)
	}
}

func TestAuthGetRefreshesRejectedToken(t *testing.T) {
	var calls []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/floor/infos":
			if r.Header.Get("accessToken") == "fresh" {
				writeEnvelope(w, CodeSuccess, map[string]any{
					"floors": []FloorInfo{{FloorNo: "f1", FloorName: "Ground"}},
				})
				return
			}
			writeEnvelope(w, CodeAccessTokenError, nil)
		case "/account/token":
			writeEnvelope(w, CodeSuccess, TokenInfo{AccessToken: "fresh", RefreshToken: "rt-2"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	client.SetTokens(TokenInfo{AccessToken: "stale", RefreshToken: "rt-1"})

	floors, err := client.Floors(context.Background())
	if err != nil {
		t.Fatalf("Floors: %v", err)
	}
	if len(floors) != 1 || floors[0].FloorNo != "f1" {
		t.Errorf("floors = %+v", floors)
	}
	want := []string{"GET /floor/infos", "PUT /account/token", "GET /floor/infos"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestRefreshFallsBackToLogin(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/account/token":
			writeEnvelope(w, CodeRefreshTokenError, nil)
		case "/account/login":
			writeEnvelope(w, CodeSuccess, TokenInfo{AccessToken: "at-2", RefreshToken: "rt-2"})
		}
	}))
	client.SetTokens(TokenInfo{AccessToken: "stale", RefreshToken: "dead"})

	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if client.AccessToken() != "at-2" {
		t.Errorf("AccessToken = %q after login fallback", client.AccessToken())
	}
}

func TestRefreshReauthRequired(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/account/token":
			writeEnvelope(w, CodeRefreshTokenError, nil)
		case "/account/login":
			writeEnvelope(w, CodeLoginError, nil)
		}
	}))
	client.SetTokens(TokenInfo{RefreshToken: "dead"})

	err := client.Refresh(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Errorf("Refresh = %v, want ErrReauthRequired", err)
	}
}

func TestDiscoverDevices(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("houseNo") != "house-1" {
			t.Errorf("houseNo = %q", r.URL.Query().Get("houseNo"))
		}
		writeEnvelope(w, CodeSuccess, map[string]any{
			"devices": []DeviceInfo{
				{DeviceNo: "d1", DeviceName: "Lamp", DeviceTypeNo: "3", IsUse: 1},
				{DeviceNo: "d2", DeviceName: "Spare", IsUse: 0},
			},
		})
	}))

	devices, err := client.DiscoverDevices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	if devices[0].DeviceNo != "d1" || devices[1].IsUse != 0 {
		t.Errorf("devices = %+v", devices)
	}
}

func TestControlDeviceBody(t *testing.T) {
	var got ControlRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		writeEnvelope(w, CodeSuccess, nil)
	}))

	resp, err := client.ControlDevice(context.Background(), "d1", []Command{{Code: "switch", Value: "on"}})
	if err != nil {
		t.Fatalf("ControlDevice: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("code = %s", resp.Code)
	}
	if got.DeviceNo != "d1" || got.HouseNo != "house-1" || len(got.Commands) != 1 {
		t.Errorf("request body = %+v", got)
	}
}

func TestTerminalIsLANHost(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"DXH", true},
		{"DXH-HMCUH743", true},
		{"DXS", false},
		{"", false},
	}
	for _, tt := range tests {
		terminal := TerminalInfo{ProductModel: tt.model}
		if got := terminal.IsLANHost(); got != tt.want {
			t.Errorf("IsLANHost(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
