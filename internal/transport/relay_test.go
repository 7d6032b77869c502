package transport

import (
	"net/url"
	"testing"

	"github.com/paseo-dev/paseod/internal/config"
)

func TestControlURLSetsRoleAndVersion(t *testing.T) {
	r := &RelayClient{cfg: config.RelayConfig{URL: "wss://relay.example.com/ws", ServerID: "desk-1"}}

	raw, err := r.controlURL()
	if err != nil {
		t.Fatalf("controlURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	q := u.Query()
	if q.Get("role") != "server" {
		t.Errorf("role = %q, want %q", q.Get("role"), "server")
	}
	if q.Get("serverId") != "desk-1" {
		t.Errorf("serverId = %q, want %q", q.Get("serverId"), "desk-1")
	}
	if q.Get("v") != "2" {
		t.Errorf("v = %q, want %q", q.Get("v"), "2")
	}
}

func TestDataLinkURLIncludesConnectionID(t *testing.T) {
	r := &RelayClient{cfg: config.RelayConfig{URL: "wss://relay.example.com/ws", ServerID: "desk-1"}}

	raw, err := r.dataLinkURL("conn-42")
	if err != nil {
		t.Fatalf("dataLinkURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if got := u.Query().Get("connectionId"); got != "conn-42" {
		t.Errorf("connectionId = %q, want %q", got, "conn-42")
	}
}
