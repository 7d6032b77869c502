// Relay client implementing SPEC_FULL.md §4.4: the daemon dials out to a
// relay server rather than accepting inbound connections directly, so a
// remote client behind NAT can reach it. Grounded on the teacher's
// gateway/websocket.Client reconnect loop (apps/backend/internal/gateway/
// websocket/client.go), generalized from "accept one browser connection"
// to "dial a control channel, then dial one data link per relay-announced
// peer and encrypt it end to end."
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paseo-dev/paseod/internal/config"
	"github.com/paseo-dev/paseod/internal/crypto"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/session"
)

const (
	relayDialTimeout    = 10 * time.Second
	relayReconnectDelay = 3 * time.Second
	relayProtocolVer    = 2
)

// relayAnnouncement is the control-channel message the relay sends when a
// client has asked to connect to this server.
type relayAnnouncement struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// relayHello is the cleartext first frame a client sends on a freshly
// dialed data link, carrying its ephemeral X25519 public key.
type relayHello struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// RelayClient maintains the daemon's outbound control connection to a
// relay server and spins up one encrypted data link per announced peer.
type RelayClient struct {
	cfg       config.RelayConfig
	daemonKey *crypto.KeyPair
	hub       *session.Hub
	dispatch  func(ctx context.Context, conn *session.Connection, data []byte)
	logger    *paseolog.Logger
}

// NewRelayClient builds a relay client bound to the daemon's persisted key
// pair. cfg.Enabled gates whether Run does anything.
func NewRelayClient(cfg config.RelayConfig, daemonKey *crypto.KeyPair, hub *session.Hub, dispatcher *session.Dispatcher, log *paseolog.Logger) *RelayClient {
	return &RelayClient{
		cfg:       cfg,
		daemonKey: daemonKey,
		hub:       hub,
		dispatch:  dispatcher.Dispatch,
		logger:    log.WithFields(zap.String("component", "relay-client")),
	}
}

// Run holds the control connection open until ctx is cancelled, reconnecting
// on drop. It returns nil on clean shutdown.
func (r *RelayClient) Run(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}

	for {
		if err := r.runOnce(ctx); err != nil {
			r.logger.Warn("relay control connection dropped, reconnecting", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(relayReconnectDelay):
		}
	}
}

func (r *RelayClient) runOnce(ctx context.Context) error {
	controlURL, err := r.controlURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, relayDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, controlURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay control connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	r.logger.Info("relay control connection established", zap.String("url", r.cfg.URL), zap.String("serverId", r.cfg.ServerID))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var ann relayAnnouncement
		if err := conn.ReadJSON(&ann); err != nil {
			return fmt.Errorf("read relay announcement: %w", err)
		}
		if ann.Type != "connected" || ann.ConnectionID == "" {
			continue
		}

		go r.handleDataLink(ctx, ann.ConnectionID)
	}
}

// controlURL builds the relay control-channel URL: role=server identifies
// this daemon to the relay, serverId is this daemon's stable identity, v
// pins the handshake/framing version so the relay can reject stale clients.
func (r *RelayClient) controlURL() (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("role", "server")
	q.Set("serverId", r.cfg.ServerID)
	q.Set("v", fmt.Sprintf("%d", relayProtocolVer))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dataLinkURL builds the per-connection data link URL for one announced peer.
func (r *RelayClient) dataLinkURL(connectionID string) (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("role", "server")
	q.Set("serverId", r.cfg.ServerID)
	q.Set("connectionId", connectionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handleDataLink dials a dedicated link for one announced peer, performs the
// cleartext `hello` key exchange, derives the shared AES-256-GCM key, and
// hands the link to the session hub as an ordinary (encrypted) Connection.
func (r *RelayClient) handleDataLink(ctx context.Context, connectionID string) {
	logger := r.logger.WithFields(zap.String("connectionId", connectionID))

	linkURL, err := r.dataLinkURL(connectionID)
	if err != nil {
		logger.Error("failed to build data link url", zap.Error(err))
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, relayDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, linkURL, nil)
	if err != nil {
		logger.Error("failed to dial relay data link", zap.Error(err))
		return
	}

	var hello relayHello
	if err := conn.ReadJSON(&hello); err != nil {
		logger.Error("failed to read hello frame", zap.Error(err))
		_ = conn.Close()
		return
	}
	if hello.Type != "hello" || hello.Key == "" {
		logger.Error("malformed hello frame", zap.String("type", hello.Type))
		_ = conn.Close()
		return
	}

	peerPub, err := crypto.DecodePublicKey(hello.Key)
	if err != nil {
		logger.Error("failed to decode peer public key", zap.Error(err))
		_ = conn.Close()
		return
	}

	cipherKey, err := crypto.SharedKey(r.daemonKey.Private, peerPub)
	if err != nil {
		logger.Error("failed to derive shared key", zap.Error(err))
		_ = conn.Close()
		return
	}

	helloReply, err := json.Marshal(relayHello{Type: "hello", Key: r.daemonKey.PublicBase64()})
	if err != nil {
		logger.Error("failed to marshal hello reply", zap.Error(err))
		_ = conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, helloReply); err != nil {
		logger.Error("failed to send hello reply", zap.Error(err))
		_ = conn.Close()
		return
	}

	sessionConn := session.NewRelayConnection(connectionID, conn, cipherKey, r.hub, r.logger)
	r.hub.Register(sessionConn)

	logger.Info("relay data link established")

	go sessionConn.WritePump()
	sessionConn.ReadPump(ctx, r.dispatch)
}
