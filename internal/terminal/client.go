package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

const (
	dialTimeout    = 5 * time.Second
	writeWait      = 10 * time.Second
	serverTimeout  = 90 * time.Second // server pings every 30s
	reconnectDelay = 2 * time.Second
	requestTimeout = 10 * time.Second
)

var (
	ErrOffline     = errors.New("synchronization channel is offline")
	ErrSyncTimeout = errors.New("no snapshot confirmed the edit in time")
)

// RequestError is a rejection from the venue server, as opposed to a
// transport failure: resending the same payload will only be rejected again.
type RequestError struct {
	Status int
	Msg    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.Msg)
}

// Client connects one terminal to the venue server: the websocket
// synchronization channel carrying intents out and snapshots in, plus the
// request/response calls for bootstrap, finalize and stock movements.
type Client struct {
	serverAddr string
	log        *logger.Logger
	http       *http.Client
	mirror     *Mirror

	mu      sync.Mutex
	conn    *websocket.Conn
	online  bool
	snapped chan struct{}
}

func NewClient(serverAddr string, log *logger.Logger) *Client {
	return &Client{
		serverAddr: serverAddr,
		log:        log,
		http:       &http.Client{Timeout: requestTimeout},
		mirror:     NewMirror(),
		snapped:    make(chan struct{}),
	}
}

func (c *Client) Mirror() *Mirror {
	return c.mirror
}

// Online reports whether the synchronization channel is currently up.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Bootstrap performs the cold-start read and seeds the mirror.
func (c *Client) Bootstrap(ctx context.Context) (*models.BootstrapResponse, error) {
	var resp models.BootstrapResponse
	if err := c.get(ctx, "/bootstrap", "", &resp); err != nil {
		return nil, err
	}
	c.mirror.Hydrate(resp.Tables)
	return &resp, nil
}

// Run keeps the synchronization channel alive until ctx ends, redialing
// after every drop. Mirrored state is kept across drops but flagged stale
// until the next snapshot.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.listen(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("", "channel_lost", fmt.Sprintf("Synchronization channel lost: %v", err))
		}
		c.setOffline()
		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) listen(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.serverAddr, Path: "/ws"}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.online = true
	c.mu.Unlock()
	c.log.Info("", "channel_connected", "Synchronization channel connected")

	// Unblock ReadMessage when ctx ends while we are parked on the socket.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(serverTimeout))
	conn.SetPingHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(serverTimeout))
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(serverTimeout))

		var frame models.SnapshotFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("", "snapshot_malformed", fmt.Sprintf("Dropping malformed frame: %v", err))
			continue
		}
		if frame.Type != models.FrameSnapshot {
			continue
		}
		if c.mirror.ReplaceAll(frame) {
			c.signalSnapshot()
		}
	}
}

func (c *Client) setOffline() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	wasOnline := c.online
	c.online = false
	c.mu.Unlock()

	c.mirror.Invalidate()
	if wasOnline {
		c.log.Warn("", "channel_offline", "Synchronization channel offline, reconnecting")
	}
}

// SendIntent proposes a wholesale replacement of one table's order. The
// caller has already applied it optimistically; authority answers with the
// next snapshot.
func (c *Client) SendIntent(tableID int64, order *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online || c.conn == nil {
		return ErrOffline
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(models.IntentFrame{
		Type:    models.FrameIntent,
		TableID: tableID,
		Order:   order,
	})
}

func (c *Client) signalSnapshot() {
	c.mu.Lock()
	close(c.snapped)
	c.snapped = make(chan struct{})
	c.mu.Unlock()
}

// AwaitSnapshot blocks until a snapshot newer than afterSeq confirms the
// server processed our edit, or the timeout expires. Expiry is a
// connectivity warning, not a failure: the edit may still land.
func (c *Client) AwaitSnapshot(ctx context.Context, afterSeq uint64, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if seq, fresh := c.mirror.Current(); fresh && seq > afterSeq {
			return nil
		}
		c.mu.Lock()
		ch := c.snapped
		c.mu.Unlock()
		select {
		case <-ch:
		case <-deadline.C:
			return ErrSyncTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Finalize submits the sale request. Safe to resend with the same
// idempotency key: the server answers replays with the original sale.
func (c *Client) Finalize(ctx context.Context, req models.FinalizeRequest) (*models.SaleResponse, error) {
	var resp models.SaleResponse
	if err := c.post(ctx, "/sales", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Supply records received stock or upward corrections.
func (c *Client) Supply(ctx context.Context, req models.SupplyRequest) (*models.StockResponse, error) {
	var resp models.StockResponse
	if err := c.post(ctx, "/stock/supply", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Waste records written-off stock or downward corrections.
func (c *Client) Waste(ctx context.Context, req models.WasteRequest) (*models.StockResponse, error) {
	var resp models.StockResponse
	if err := c.post(ctx, "/stock/waste", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stock reads the live pool balances, narrowed to one item's pool when
// itemID is non-zero.
func (c *Client) Stock(ctx context.Context, itemID int64) (*models.StockResponse, error) {
	query := ""
	if itemID != 0 {
		query = "item=" + strconv.FormatInt(itemID, 10)
	}
	var resp models.StockResponse
	if err := c.get(ctx, "/stock", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) httpURL(path, query string) string {
	return (&url.URL{Scheme: "http", Host: c.serverAddr, Path: path, RawQuery: query}).String()
}

func (c *Client) get(ctx context.Context, path, query string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpURL(path, query), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL(path, ""), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("X-Request-ID", "term-"+uuid.NewString())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var body errorBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
			return &RequestError{Status: resp.StatusCode, Msg: body.Error}
		}
		return &RequestError{Status: resp.StatusCode, Msg: resp.Status}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type errorBody struct {
	Error string `json:"error"`
}
