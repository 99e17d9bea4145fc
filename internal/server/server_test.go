package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/fpt/discord-zendesk-bridge/internal/bridge"
	"github.com/fpt/discord-zendesk-bridge/internal/config"
	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

type fakeTenants struct {
	mu sync.Mutex

	pulled      []bridge.TenantMetadata
	pullItems   []zendesk.ExternalResource
	pullErr     error
	channelback []bridge.ChannelbackRequest
	cbID        string
	cbErr       error
	clickURL    string
	clickErr    error
	statuses    []string
	handled     bool
}

func (f *fakeTenants) Pull(ctx context.Context, meta bridge.TenantMetadata) ([]zendesk.ExternalResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, meta)
	if f.pullItems == nil {
		return []zendesk.ExternalResource{}, f.pullErr
	}
	return f.pullItems, f.pullErr
}

func (f *fakeTenants) Channelback(ctx context.Context, uuid string, req bridge.ChannelbackRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelback = append(f.channelback, req)
	return f.cbID, f.cbErr
}

func (f *fakeTenants) ResolveClickthrough(ctx context.Context, externalID string) (string, error) {
	return f.clickURL, f.clickErr
}

func (f *fakeTenants) HandleStatusChange(ctx context.Context, threadID, status string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, threadID+":"+status)
	return f.handled
}

func (f *fakeTenants) Len() int { return len(f.pulled) }

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(tenants *fakeTenants, configure func(*config.Config)) *Server {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Site = "https://bridge.example.com"
	if configure != nil {
		configure(cfg)
	}
	return New(Options{
		Config:  cfg,
		Tenants: tenants,
		Logger:  pkgLogger.NewDiscardLogger(),
		Now:     func() time.Time { return testNow },
	})
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

const validMetadata = `{"uuid":"tenant-1","token":"bot-token","channel":"1001","subdomain":"acme","instance_push_id":"ip-1","zendesk_access_token":"at-1"}`

func TestManifest(t *testing.T) {
	s := newTestServer(&fakeTenants{}, func(c *config.Config) { c.Integration.PushClientID = "zd_push" })

	w := do(s, httptest.NewRequest(http.MethodGet, "/manifest.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m zendesk.Manifest
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("bad manifest: %v", err)
	}
	if m.ID != "https://bridge.example.com" || !m.ChannelbackFiles || m.PushClientID != "zd_push" {
		t.Errorf("unexpected manifest %+v", m)
	}
	if m.URLs.PullURL != "https://bridge.example.com/pull" || m.URLs.AdminUI != "https://bridge.example.com/admin" {
		t.Errorf("unexpected urls %+v", m.URLs)
	}
}

func TestPull(t *testing.T) {
	tenants := &fakeTenants{pullItems: []zendesk.ExternalResource{{ExternalID: "1001"}}}
	s := newTestServer(tenants, nil)

	w := do(s, postForm("/pull", url.Values{"metadata": {validMetadata}}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp zendesk.PullResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(resp.ExternalResources) != 1 || resp.ExternalResources[0].ExternalID != "1001" {
		t.Errorf("unexpected resources %+v", resp.ExternalResources)
	}

	meta := tenants.pulled[0]
	if meta.UUID != "tenant-1" || meta.Credential != "bot-token" || meta.ChannelRef != "1001" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Push != nil {
		t.Error("push descriptor must be ignored while push is disabled")
	}
}

func TestPullEmptyIsArray(t *testing.T) {
	s := newTestServer(&fakeTenants{}, nil)
	w := do(s, postForm("/pull", url.Values{"metadata": {validMetadata}}))
	if !strings.Contains(w.Body.String(), `"external_resources":[]`) {
		t.Errorf("empty pull must return an array, got %s", w.Body.String())
	}
}

func TestPullWithPushEnabled(t *testing.T) {
	tenants := &fakeTenants{}
	s := newTestServer(tenants, func(c *config.Config) { c.Integration.PushClientID = "zd_push" })

	do(s, postForm("/pull", url.Values{"metadata": {validMetadata}}))

	push := tenants.pulled[0].Push
	if push == nil || push.Subdomain != "acme" || push.InstancePushID != "ip-1" || push.AccessToken != "at-1" {
		t.Errorf("unexpected push descriptor %+v", push)
	}
}

func TestPullErrors(t *testing.T) {
	testCases := []struct {
		name     string
		form     url.Values
		pullErr  error
		expected int
	}{
		{"missing metadata", url.Values{}, nil, http.StatusBadRequest},
		{"invalid json", url.Values{"metadata": {"{"}}, nil, http.StatusBadRequest},
		{"non numeric channel", url.Values{"metadata": {`{"uuid":"u","token":"t","channel":"general"}`}}, nil, http.StatusBadRequest},
		{"missing token", url.Values{"metadata": {`{"uuid":"u","channel":"1"}`}}, nil, http.StatusBadRequest},
		{"rejected push token", url.Values{"metadata": {validMetadata}}, errors.Wrap(bridge.ErrAuth, "rejected"), http.StatusForbidden},
		{"chat unreachable", url.Values{"metadata": {validMetadata}}, errors.Wrap(bridge.ErrUpstream, "down"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		s := newTestServer(&fakeTenants{pullErr: tc.pullErr}, nil)
		w := do(s, postForm("/pull", tc.form))
		if w.Code != tc.expected {
			t.Errorf("%s: status = %d, expected %d", tc.name, w.Code, tc.expected)
		}
	}
}

func TestChannelback(t *testing.T) {
	tenants := &fakeTenants{cbID: "1001-2002"}
	s := newTestServer(tenants, nil)

	form := url.Values{
		"metadata":    {validMetadata},
		"message":     {"Fixed!"},
		"thread_id":   {"1001"},
		"file_urls[]": {"https://acme.zendesk.com/a.png", "https://acme.zendesk.com/b.png"},
	}
	w := do(s, postForm("/channelback", form))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp zendesk.ChannelbackResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.ExternalID != "1001-2002" || !resp.AllowChannelback {
		t.Errorf("unexpected response %+v", resp)
	}

	req := tenants.channelback[0]
	if req.ThreadID != "1001" || req.Message != "Fixed!" || len(req.FileURLs) != 2 {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestChannelbackErrors(t *testing.T) {
	testCases := []struct {
		name     string
		threadID string
		cbErr    error
		expected int
	}{
		{"invalid thread id", "abc", nil, http.StatusBadRequest},
		{"missing thread id", "", nil, http.StatusBadRequest},
		{"unknown tenant", "1001", errors.Wrap(bridge.ErrNotFound, "no session"), http.StatusInternalServerError},
		{"destroyed session", "1001", bridge.ErrDestroyed, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tenants := &fakeTenants{cbErr: tc.cbErr}
		s := newTestServer(tenants, nil)
		w := do(s, postForm("/channelback", url.Values{
			"metadata":  {validMetadata},
			"message":   {"hi"},
			"thread_id": {tc.threadID},
		}))
		if w.Code != tc.expected {
			t.Errorf("%s: status = %d, expected %d", tc.name, w.Code, tc.expected)
		}
		if w.Code == http.StatusInternalServerError && strings.Contains(w.Body.String(), "session") {
			t.Errorf("%s: server errors must not leak details: %s", tc.name, w.Body.String())
		}
	}
}

func TestClickthrough(t *testing.T) {
	s := newTestServer(&fakeTenants{clickURL: "https://discord.com/channels/1/1001/2002"}, nil)

	w := do(s, httptest.NewRequest(http.MethodGet, "/clickthrough?external_id=1001-2002", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://discord.com/channels/1/1001/2002" {
		t.Errorf("Location = %q", loc)
	}

	if w := do(s, httptest.NewRequest(http.MethodGet, "/clickthrough", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("missing external_id: status = %d", w.Code)
	}

	s = newTestServer(&fakeTenants{clickErr: errors.Wrap(bridge.ErrNotFound, "nobody")}, nil)
	if w := do(s, httptest.NewRequest(http.MethodGet, "/clickthrough?external_id=9", nil)); w.Code != http.StatusInternalServerError {
		t.Errorf("unresolved: status = %d", w.Code)
	}
}

func webhookRequest(body, secret string, ts time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		stamp := ts.Format(time.RFC3339)
		sig := zendesk.SignWebhook([]byte(secret), stamp, []byte(body))
		req.Header.Set(zendesk.SignatureHeader, base64.StdEncoding.EncodeToString(sig))
		req.Header.Set(zendesk.SignatureTimestampHeader, stamp)
	}
	return req
}

func TestWebhook(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected []string
	}{
		{"array tags", `{"status":"solved","tags":["vip","do-not-remove-discord-1001"]}`, []string{"1001:solved"}},
		{"string tags", `{"status":"open","tags":"vip do-not-remove-discord-1001"}`, []string{"1001:open"}},
		{"no thread tag", `{"status":"solved","tags":["vip"]}`, nil},
		{"malformed", `{"status":`, nil},
	}

	for _, tc := range testCases {
		tenants := &fakeTenants{}
		s := newTestServer(tenants, nil)

		w := do(s, webhookRequest(tc.body, "", testNow))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, webhooks are always acknowledged", tc.name, w.Code)
		}
		if strings.Join(tenants.statuses, ",") != strings.Join(tc.expected, ",") {
			t.Errorf("%s: statuses = %v, expected %v", tc.name, tenants.statuses, tc.expected)
		}
	}
}

func TestWebhookSignature(t *testing.T) {
	body := `{"status":"solved","tags":["do-not-remove-discord-1001"]}`
	configure := func(c *config.Config) { c.Zendesk.WebhookSecret = "hook-secret" }

	testCases := []struct {
		name     string
		req      *http.Request
		expected int
		handled  int
	}{
		{"valid", webhookRequest(body, "hook-secret", testNow), http.StatusOK, 1},
		{"unsigned", webhookRequest(body, "", testNow), http.StatusForbidden, 0},
		{"wrong secret", webhookRequest(body, "other", testNow), http.StatusForbidden, 0},
		{"stale timestamp", webhookRequest(body, "hook-secret", testNow.Add(-time.Hour)), http.StatusForbidden, 0},
	}

	for _, tc := range testCases {
		tenants := &fakeTenants{}
		s := newTestServer(tenants, configure)
		w := do(s, tc.req)
		if w.Code != tc.expected {
			t.Errorf("%s: status = %d, expected %d", tc.name, w.Code, tc.expected)
		}
		if len(tenants.statuses) != tc.handled {
			t.Errorf("%s: status changes = %v", tc.name, tenants.statuses)
		}
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(&fakeTenants{}, nil)

	w := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz = %d %s", w.Code, w.Body.String())
	}

	w = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `bridge_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Errorf("request counter missing from metrics:\n%s", w.Body.String())
	}
}

func TestAttachmentRouteDisabled(t *testing.T) {
	s := newTestServer(&fakeTenants{}, nil)
	if w := do(s, httptest.NewRequest(http.MethodGet, "/attachment/abc/x.png", nil)); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404 without a proxy", w.Code)
	}
}

func TestAdminFlow(t *testing.T) {
	s := newTestServer(&fakeTenants{}, nil)

	w := do(s, postForm("/admin", url.Values{
		"return_url":           {"https://acme.zendesk.com/zendesk/channels/integration_service_instances/editor_finalizer"},
		"subdomain":            {"acme"},
		"instance_push_id":     {"ip-1"},
		"zendesk_access_token": {"at-1"},
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("admin form status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `name="instance_push_id" value="ip-1"`) {
		t.Errorf("push fields not carried into the form:\n%s", w.Body.String())
	}

	w = do(s, postForm("/admin/save", url.Values{
		"name":             {"Support forum"},
		"token":            {"bot-token"},
		"channel":          {"1001"},
		"return_url":       {"https://acme.zendesk.com/finalize"},
		"subdomain":        {"acme"},
		"instance_push_id": {"ip-1"},
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("admin save status = %d, body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `action="https://acme.zendesk.com/finalize"`) {
		t.Errorf("form does not post back to return_url:\n%s", body)
	}
	if !strings.Contains(body, "&#34;channel&#34;:&#34;1001&#34;") || !strings.Contains(body, "&#34;uuid&#34;:&#34;") {
		t.Errorf("metadata missing from return form:\n%s", body)
	}

	w = do(s, postForm("/admin/save", url.Values{
		"name": {"x"}, "token": {"t"}, "channel": {"general"}, "return_url": {"https://acme.zendesk.com/finalize"},
	}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("non numeric channel: status = %d", w.Code)
	}

	if w := do(s, postForm("/admin", url.Values{})); w.Code != http.StatusBadRequest {
		t.Errorf("missing return_url: status = %d", w.Code)
	}
}

func TestPullRejectedChatCredential(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := bridge.NewRegistry(bridge.RegistryOptions{
		Session: bridge.SessionOptions{
			Connect: func(string) (bridge.Chat, error) {
				return nil, errors.Wrap(bridge.ErrAuth, "discord rejected the bot token")
			},
			Translator: bridge.NewTranslator(bridge.TranslatorConfig{}, nil),
		},
		Logger: pkgLogger.NewDiscardLogger(),
	})
	defer registry.Close()

	cfg := config.Default()
	cfg.Site = "https://bridge.example.com"
	s := New(Options{Config: cfg, Tenants: registry, Logger: pkgLogger.NewDiscardLogger()})

	w := do(s, postForm("/pull", url.Values{"metadata": {validMetadata}}))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, expected 403 for a rejected bot token", w.Code)
	}
	if registry.Len() != 0 {
		t.Errorf("rejected credential left %d sessions", registry.Len())
	}
}
