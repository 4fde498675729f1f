package schwab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

const streamLoginTimeout = 15 * time.Second

// Streamer implementa ports.ActivitySource sobre el websocket del Streamer API
// (servicio ACCT_ACTIVITY).
type Streamer struct {
	client *Client
	dialer *websocket.Dialer
}

// NewStreamer crea un Streamer que usa client para descubrir el socket y autenticar.
func NewStreamer(client *Client) *Streamer {
	return &Streamer{client: client, dialer: websocket.DefaultDialer}
}

// Run se conecta, hace LOGIN, se suscribe y entrega eventos hasta que ctx termina
// o la conexión falla. El llamador decide si reconectar.
func (s *Streamer) Run(ctx context.Context, sink ports.EventSink) error {
	var pref userPreference
	if err := s.client.get(ctx, "/userPreference", &pref); err != nil {
		return fmt.Errorf("schwab.Streamer: user preference: %w", err)
	}
	if len(pref.StreamerInfo) == 0 || pref.StreamerInfo[0].StreamerSocketURL == "" {
		return fmt.Errorf("schwab.Streamer: no streamer info for this login")
	}
	info := pref.StreamerInfo[0]

	token, err := s.client.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("schwab.Streamer: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, info.StreamerSocketURL, nil)
	if err != nil {
		return fmt.Errorf("schwab.Streamer: dial: %w", err)
	}
	defer conn.Close()

	// Cerrar la conexión desbloquea ReadMessage cuando se cancela ctx.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.login(conn, info, token); err != nil {
		return err
	}
	if err := conn.WriteJSON(streamRequests{Requests: []streamRequest{
		s.request(info, "ACCT_ACTIVITY", "SUBS", 1, map[string]any{
			"keys":   "Account Activity",
			"fields": "0,1,2,3",
		}),
	}}); err != nil {
		return fmt.Errorf("schwab.Streamer: subscribe: %w", err)
	}
	slog.Info("streamer subscribed", "service", "ACCT_ACTIVITY")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("schwab.Streamer: read: %w", err)
		}
		if err := s.dispatch(ctx, raw, sink); err != nil {
			return err
		}
	}
}

func (s *Streamer) login(conn *websocket.Conn, info streamerInfo, token string) error {
	req := s.request(info, "ADMIN", "LOGIN", 0, map[string]any{
		"Authorization":          token,
		"SchwabClientChannel":    info.SchwabClientChannel,
		"SchwabClientFunctionId": info.SchwabClientFunctionID,
	})
	if err := conn.WriteJSON(streamRequests{Requests: []streamRequest{req}}); err != nil {
		return fmt.Errorf("schwab.Streamer: login: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(streamLoginTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("schwab.Streamer: login response: %w", err)
		}
		for _, r := range msg.Response {
			if r.Service != "ADMIN" || r.Command != "LOGIN" {
				continue
			}
			if r.Content.Code != 0 {
				return fmt.Errorf("schwab.Streamer: login rejected (code %d): %s: %w",
					r.Content.Code, r.Content.Msg, domain.ErrAuthRejected)
			}
			return nil
		}
	}
}

func (s *Streamer) request(info streamerInfo, service, command string, id int, params map[string]any) streamRequest {
	return streamRequest{
		Service:                service,
		Command:                command,
		RequestID:              strconv.Itoa(id),
		SchwabClientCustomerID: info.SchwabClientCustomerID,
		SchwabClientCorrelID:   info.SchwabClientCorrelID,
		Parameters:             params,
	}
}

// dispatch decodifica un frame y entrega los eventos de fondos al sink.
// Un error del sink corta la conexión para que la actividad se vuelva a recibir.
func (s *Streamer) dispatch(ctx context.Context, raw []byte, sink ports.EventSink) error {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("streamer: undecodable frame", "err", err)
		return nil
	}
	for _, d := range msg.Data {
		if d.Service != "ACCT_ACTIVITY" {
			continue
		}
		received := time.UnixMilli(d.Timestamp)
		if d.Timestamp == 0 {
			received = s.client.now()
		}
		for _, entry := range d.Content {
			ev, ok := ParseActivityEntry(entry.MessageType, entry.MessageData, received)
			if !ok {
				continue
			}
			if err := sink(ctx, ev); err != nil {
				return fmt.Errorf("schwab.Streamer: sink %s: %w", ev.EventID, err)
			}
		}
	}
	return nil
}

// ParseActivityEntry decodifica el payload JSON de una fila ACCT_ACTIVITY.
func ParseActivityEntry(messageType, data string, received time.Time) (domain.LedgerEvent, bool) {
	var a Activity
	if data != "" {
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			slog.Debug("streamer: unparsable activity payload", "type", messageType, "err", err)
			return domain.LedgerEvent{}, false
		}
	}
	return MapActivity(messageType, a, received)
}
