package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStreamBroadcastsIndexEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	idxReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/tenants/acme/apis/A", strings.NewReader(petSpec1))
	resp, err := http.DefaultClient.Do(idxReq)
	if err != nil {
		t.Fatalf("index request: %v", err)
	}
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev streamEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("expected a stream event, got error: %v", err)
	}
	if ev.Event != "indexed" || ev.APIID != "A" || ev.Tenant != "acme" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestStreamHubDropsSlowClients(t *testing.T) {
	h := newStreamHub()
	h.clients[nil] = make(chan streamEvent) // unbuffered: a synchronous send would block forever
	h.broadcast(streamEvent{Event: "indexed"})
	if len(h.clients) != 0 {
		t.Fatalf("expected slow client to be dropped, got %d remaining", len(h.clients))
	}
}
