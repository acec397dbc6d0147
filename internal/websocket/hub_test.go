package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestShouldSendToClient(t *testing.T) {
	high := Event{Type: EventTypeAnonymization, Data: AnonymizationEvent{
		RiskLevel:       "HIGH",
		DetectionsCount: 3,
		ByCategory:      map[string]int{"personal": 2, "medical": 1},
	}}
	low := Event{Type: EventTypeAnonymization, Data: AnonymizationEvent{
		RiskLevel:       "LOW",
		DetectionsCount: 1,
		ByCategory:      map[string]int{"financial": 1},
	}}
	batch := Event{Type: EventTypeBatch, Data: BatchEvent{TotalTexts: 2}}

	tests := []struct {
		name  string
		sub   *SubscriptionRequest
		event Event
		want  bool
	}{
		{"no subscription", nil, low, true},
		{"not subscribed", &SubscriptionRequest{Events: []EventType{EventTypeBatch}}, high, false},
		{"subscribed", &SubscriptionRequest{Events: []EventType{EventTypeAnonymization}}, high, true},
		{"risk below minimum", &SubscriptionRequest{Filter: &EventFilter{MinRiskLevel: "medium"}}, low, false},
		{"risk above minimum", &SubscriptionRequest{Filter: &EventFilter{MinRiskLevel: "medium"}}, high, true},
		{"category match", &SubscriptionRequest{Filter: &EventFilter{Categories: []string{"medical"}}}, high, true},
		{"category miss", &SubscriptionRequest{Filter: &EventFilter{Categories: []string{"medical"}}}, low, false},
		{"too few detections", &SubscriptionRequest{Filter: &EventFilter{MinDetections: 2}}, low, false},
		{"filter ignores other events", &SubscriptionRequest{Filter: &EventFilter{MinRiskLevel: "HIGH"}}, batch, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{Subscription: tt.sub}
			if got := shouldSendToClient(client, tt.event); got != tt.want {
				t.Errorf("shouldSendToClient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldBroadcastEvent(t *testing.T) {
	h := NewHub(&HubConfig{BroadcastAnonymizations: true}, zap.NewNop())

	if !h.shouldBroadcastEvent(EventTypeAnonymization) {
		t.Error("anonymization events should be enabled")
	}
	if h.shouldBroadcastEvent(EventTypeBatch) || h.shouldBroadcastEvent(EventTypeSystemStatus) {
		t.Error("disabled events should not broadcast")
	}
	if h.shouldBroadcastEvent("unknown") {
		t.Error("unknown events should not broadcast")
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(&HubConfig{AllowedOrigins: []string{"https://dashboard.example.com"}}, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !h.checkOrigin(r) {
		t.Error("requests without Origin should pass")
	}
	r.Header.Set("Origin", "https://dashboard.example.com")
	if !h.checkOrigin(r) {
		t.Error("allowed origin rejected")
	}
	r.Header.Set("Origin", "https://evil.example.com")
	if h.checkOrigin(r) {
		t.Error("foreign origin accepted")
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := getClientIP(r); got != "203.0.113.7" {
		t.Errorf("expected first forwarded address, got %s", got)
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(&HubConfig{
		BroadcastAnonymizations: true,
		BroadcastBatches:        true,
		Username:                "ops",
		Password:                "secret",
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("expected unauthenticated dial to fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	header := http.Header{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("ops", "secret")
	header.Set("Authorization", req.Header.Get("Authorization"))

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitForClients(t, h, 1)

	h.BroadcastAnonymization(AnonymizationEvent{
		RequestID:       "req-1",
		Operation:       "anonymize",
		DetectionsCount: 3,
		RiskLevel:       "HIGH",
		ByCategory:      map[string]int{"personal": 2},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type      EventType          `json:"type"`
		RequestID string             `json:"request_id"`
		Data      AnonymizationEvent `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Type != EventTypeAnonymization || got.RequestID != "req-1" || got.Data.DetectionsCount != 3 {
		t.Errorf("unexpected event: %+v", got)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var pong Event
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if pong.Type != EventTypePong {
		t.Errorf("expected pong, got %s", pong.Type)
	}

	stats := h.GetStats()
	if stats.TotalConnections != 1 || stats.ActiveConnections != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	conn.Close()
	waitForClients(t, h, 0)
}
