package cosmwasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsReadTimeout      = 60 * time.Second
	wsReconnectDelay   = 2 * time.Second
	wsMaxReconnect     = 60 * time.Second
)

// BlockSubscriber follows new blocks over the CometBFT RPC websocket.
type BlockSubscriber struct {
	wsURL  string
	logger *slog.Logger
}

// NewBlockSubscriber creates a subscriber for the node at rpcURL. http(s)
// URLs are rewritten to ws(s) and the /websocket path is appended.
func NewBlockSubscriber(rpcURL string, logger *slog.Logger) *BlockSubscriber {
	return &BlockSubscriber{
		wsURL:  WebsocketURL(rpcURL),
		logger: logger.With(slog.String("component", "block_subscriber")),
	}
}

// WebsocketURL converts a CometBFT RPC URL to its websocket endpoint.
func WebsocketURL(rpcURL string) string {
	u := strings.TrimRight(rpcURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasSuffix(u, "/websocket") {
		u += "/websocket"
	}
	return u
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	ID      int            `json:"id"`
	Params  map[string]any `json:"params"`
}

type newBlockEvent struct {
	Result struct {
		Data struct {
			Value struct {
				Block struct {
					Header struct {
						Height string `json:"height"`
					} `json:"header"`
				} `json:"block"`
			} `json:"value"`
		} `json:"data"`
	} `json:"result"`
}

// Run streams block heights into out until ctx is cancelled, reconnecting
// with exponential backoff. Heights are dropped when out is full, so a slow
// consumer only sees the latest blocks.
func (s *BlockSubscriber) Run(ctx context.Context, out chan<- int64) error {
	delay := wsReconnectDelay
	for {
		err := s.stream(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WarnContext(ctx, "block subscription interrupted",
			slog.String("url", s.wsURL),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > wsMaxReconnect {
			delay = wsMaxReconnect
		}
	}
}

func (s *BlockSubscriber) stream(ctx context.Context, out chan<- int64) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("cosmwasm/ws: connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sub := rpcRequest{
		JSONRPC: "2.0",
		Method:  "subscribe",
		ID:      1,
		Params:  map[string]any{"query": "tm.event='NewBlock'"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("cosmwasm/ws: subscribe: %w", err)
	}
	s.logger.InfoContext(ctx, "subscribed to new blocks", slog.String("url", s.wsURL))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("cosmwasm/ws: %w: %v", domain.ErrWSDisconnect, err)
		}
		height, ok := parseBlockHeight(data)
		if !ok {
			continue
		}
		select {
		case out <- height:
		default:
		}
	}
}

// parseBlockHeight extracts the height from a NewBlock event. The initial
// subscribe acknowledgement and other frames report false.
func parseBlockHeight(data []byte) (int64, bool) {
	var ev newBlockEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return 0, false
	}
	h := ev.Result.Data.Value.Block.Header.Height
	if h == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(h, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
