package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "bandroom/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "bandroom.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// TokenVerifier authenticates a websocket upgrade from a bearer access token.
type TokenVerifier interface {
	VerifyAccessUserID(accessToken string) (string, error)
}

// WSGateway is the WebSocket entrypoint for Bandroom realtime.
//
// It authenticates the upgrade, enforces origin policy, subprotocol
// selection, rate limits and heartbeats, and routes validated envelopes to
// the Hub for room fanout.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier TokenVerifier
	metrics  *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, hub *Hub, verifier TokenVerifier, metrics *Metrics) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log, metrics)
	}
	if verifier == nil {
		return nil, errors.New("realtime: nil token verifier")
	}

	g := &WSGateway{log: log, hub: hub, verifier: verifier, metrics: metrics}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("BANDROOM_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("BANDROOM_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("BANDROOM_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("BANDROOM_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("BANDROOM_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("BANDROOM_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("BANDROOM_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("BANDROOM_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("BANDROOM_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("BANDROOM_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// Hub returns the gateway's hub.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.countReject("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		g.countReject("auth")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		g.countReject("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(userID, connID, g.sendQueueSize)

	if g.metrics != nil {
		g.metrics.Connections.Inc()
		defer g.metrics.Connections.Dec()
	}
	g.log.Info("ws.connect", "conn_id", connID, "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is idempotent. It does NOT close client.Send.
	// Membership removal happens before client.Close so a broadcaster never
	// holds a pointer to a client whose goroutines are gone.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.LeaveAll(connID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		g.countEvent(env.Type)

		switch env.Type {
		case v1.TypeJoinBand:
			if err := g.onJoinBand(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
			}

		case v1.TypeJoinRehearsal:
			if err := g.onJoinRehearsal(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
			}

		case v1.TypeUpdateAvailability:
			if err := g.onUpdateAvailability(client, env, now); err != nil {
				g.trySendError(ctx, client, "availability_failed", err.Error())
			}

		case v1.TypeCreateRehearsal:
			if err := g.onRehearsalEvent(client, env, v1.TypeRehearsalCreated, now); err != nil {
				g.trySendError(ctx, client, "rehearsal_failed", err.Error())
			}

		case v1.TypeUpdateRehearsal:
			if err := g.onRehearsalEvent(client, env, v1.TypeRehearsalUpdated, now); err != nil {
				g.trySendError(ctx, client, "rehearsal_failed", err.Error())
			}

		default:
			// Server-to-client types arriving from a client are not routable.
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onJoinBand(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.JoinBandPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := validateID(p.BandID, "bandId"); err != nil {
		return err
	}

	g.hub.Join(BandRoom(p.BandID), client)

	echoPayload, _ := json.Marshal(v1.JoinBandPayload{BandID: strings.TrimSpace(p.BandID)})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.TypeJoinBand, echoPayload, now)) {
		return errors.New("backpressure: join echo")
	}
	return nil
}

func (g *WSGateway) onJoinRehearsal(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.JoinRehearsalPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := validateID(p.RehearsalID, "rehearsalId"); err != nil {
		return err
	}

	g.hub.Join(RehearsalRoom(p.RehearsalID), client)

	echoPayload, _ := json.Marshal(v1.JoinRehearsalPayload{RehearsalID: strings.TrimSpace(p.RehearsalID)})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.TypeJoinRehearsal, echoPayload, now)) {
		return errors.New("backpressure: join echo")
	}
	return nil
}

// onUpdateAvailability relays an availability change to the rehearsal room.
// The sender never receives its own update back. The user id in the outgoing
// payload is the authenticated user, not whatever the client claimed.
func (g *WSGateway) onUpdateAvailability(client *Client, env v1.Envelope, now time.Time) error {
	var p v1.AvailabilityPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := validateID(p.RehearsalID, "rehearsalId"); err != nil {
		return err
	}
	status := strings.TrimSpace(p.Status)
	if status == "" {
		return errors.New("missing status")
	}
	if len([]rune(status)) > maxStatusChars {
		return fmt.Errorf("status too long: max=%d chars", maxStatusChars)
	}

	room := RehearsalRoom(p.RehearsalID)
	if !g.hub.IsMember(room, client.ConnID) {
		return errors.New("not a member of rehearsal room")
	}

	payload, _ := json.Marshal(v1.AvailabilityPayload{
		RehearsalID: room.ID,
		UserID:      client.UserID,
		Status:      status,
	})
	g.hub.Broadcast(room, g.newEnvelope(v1.TypeAvailabilityUpdated, payload, now), client.ConnID)
	return nil
}

// onRehearsalEvent relays create_rehearsal/update_rehearsal to the full band
// room, sender included, so the originator renders the same authoritative
// event as everyone else.
func (g *WSGateway) onRehearsalEvent(client *Client, env v1.Envelope, outType string, now time.Time) error {
	var p v1.RehearsalPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := validateID(p.BandID, "bandId"); err != nil {
		return err
	}
	if err := validateID(p.RehearsalID, "rehearsalId"); err != nil {
		return err
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return errors.New("missing title")
	}
	if len([]rune(title)) > maxTitleChars {
		return fmt.Errorf("title too long: max=%d chars", maxTitleChars)
	}

	room := BandRoom(p.BandID)
	if !g.hub.IsMember(room, client.ConnID) {
		return errors.New("not a member of band room")
	}

	payload, _ := json.Marshal(v1.RehearsalPayload{
		BandID:      room.ID,
		RehearsalID: strings.TrimSpace(p.RehearsalID),
		Title:       title,
	})
	g.hub.Broadcast(room, g.newEnvelope(outType, payload, now), "")
	return nil
}

// ---- auth ----

// authenticate resolves the access token from the query string (browser
// WebSocket API cannot set headers) or the Authorization header.
func (g *WSGateway) authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if parts := strings.SplitN(raw, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
		}
	}
	if token == "" {
		return "", errors.New("missing access token")
	}

	userID, err := g.verifier.VerifyAccessUserID(token)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := g.newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func (g *WSGateway) countEvent(typ string) {
	if g.metrics != nil {
		g.metrics.EventsTotal.WithLabelValues(typ).Inc()
	}
}

func (g *WSGateway) countReject(reason string) {
	if g.metrics != nil {
		g.metrics.RejectedTotal.WithLabelValues(reason).Inc()
	}
}

// ---- envelope IO ----

func (g *WSGateway) newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, err := NewEnvelopeID(ts)
	if err != nil {
		g.log.Error("ws.envelope_id.fail", "err", err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func validateID(id, field string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing %s", field)
	}
	if len(id) > maxIDChars {
		return fmt.Errorf("%s too long: max=%d chars", field, maxIDChars)
	}
	return nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
