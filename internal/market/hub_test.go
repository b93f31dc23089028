package market_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fairmarket/settlement-engine/internal/market"
	"github.com/fairmarket/settlement-engine/internal/model"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev model.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return ev
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := market.NewHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialWS(t, srv)
	time.Sleep(50 * time.Millisecond) // let the hub register the client

	hub.Emit(model.Event{Type: model.EventPurchase, OfferID: 7, Buyer: "bob", Currency: "ETH"})

	ev := readEvent(t, conn)
	if ev.Type != model.EventPurchase || ev.OfferID != 7 || ev.Buyer != "bob" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHub_EvictedClientDoesNotStopBroadcast(t *testing.T) {
	hub := market.NewHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	gone := dialWS(t, srv)
	stays := dialWS(t, srv)
	time.Sleep(50 * time.Millisecond)

	// A client dropping mid-stream is evicted during broadcast; the
	// remaining client keeps receiving.
	gone.Close()
	time.Sleep(50 * time.Millisecond)

	hub.Emit(model.Event{Type: model.EventOfferCancelled, OfferID: 3})

	ev := readEvent(t, stays)
	if ev.Type != model.EventOfferCancelled || ev.OfferID != 3 {
		t.Errorf("unexpected event: %+v", ev)
	}
}
