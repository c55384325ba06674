// Package protocol implements the wire-level connection coordinator of
// spec.md §4.10: per-client WebSocket framing, dispatch of EVENT/REQ/CLOSE,
// and the OK/EVENT/EOSE/CLOSED/NOTICE response vocabulary of §6. All other
// array tags ("AUTH", "COUNT", ...) are reported as unsupported over
// NOTICE rather than handled, per spec.md §6.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/strtr/relay/pkg/event"
	"github.com/strtr/relay/pkg/ratelimit"
)

// MessageType is a Nostr wire-frame tag.
type MessageType string

const (
	MessageTypeEvent  MessageType = "EVENT"
	MessageTypeReq    MessageType = "REQ"
	MessageTypeClose  MessageType = "CLOSE"
	MessageTypeEOSE   MessageType = "EOSE"
	MessageTypeOK     MessageType = "OK"
	MessageTypeNotice MessageType = "NOTICE"
	MessageTypeClosed MessageType = "CLOSED"
)

// Handler is the narrow capability the coordinator needs from the relay
// core: ingest one EVENT, stream a REQ's matching backlog, and tear down a
// subscription on CLOSE. Narrowed from the teacher's interface, which also
// carried a NIP-45 HandleCount — dropped along with the rest of NIP-45,
// which spec.md's supported message subset (§6) never names.
type Handler interface {
	HandleEvent(ctx context.Context, c *Client, evt *event.Event) error
	// HandleReq streams repo.Query(filters) to c as EVENT frames for subID,
	// in the order the repository yields them. It must not register subID
	// for live broadcast itself — handleReqMessage calls Subscribe for that,
	// strictly after it has sent EOSE, so a concurrent broadcast can never
	// be enqueued for this subscription before its EOSE frame, per
	// spec.md §5's ordering guarantee.
	HandleReq(ctx context.Context, c *Client, subID string, filters []*event.Filter) error
	// Subscribe registers subID's surviving filters for live broadcast.
	// handleReqMessage calls this only after SendEOSE has returned, which is
	// what makes the EOSE-before-broadcast ordering guarantee hold: the EOSE
	// frame is already queued on c's sendCh before any broadcast delivery
	// for this subscription can be enqueued behind it.
	Subscribe(ctx context.Context, c *Client, subID string, filters []*event.Filter) error
	HandleClose(ctx context.Context, c *Client, subID string) error
}

// Client is one accepted WebSocket connection: the set of its active
// subscriptions, and the read/write pumps that carry frames to and from
// the handler.
type Client struct {
	id            string
	conn          *websocket.Conn
	handler       Handler
	limiter       *ratelimit.Limiter
	subscriptions map[string][]*event.Filter
	subMu         sync.RWMutex
	sendCh        chan []byte
	closeCh       chan struct{}
	closeOnce     sync.Once
	onClose       func(c *Client)
}

// NewClient creates a client bound to conn and handler. limiter may be nil,
// in which case the write pump does not pace outbound frames. onClose, if
// set, runs once when the connection terminates, before the pumps return —
// the relay core uses this to unregister the peer from the pool.
func NewClient(conn *websocket.Conn, handler Handler, limiter *ratelimit.Limiter) *Client {
	return &Client{
		id:            conn.RemoteAddr().String(),
		conn:          conn,
		handler:       handler,
		limiter:       limiter,
		subscriptions: make(map[string][]*event.Filter),
		sendCh:        make(chan []byte, 256),
		closeCh:       make(chan struct{}),
	}
}

// ID is the peer identity used to key pool subscriptions.
func (c *Client) ID() string {
	return c.id
}

// OnClose registers a callback run exactly once when the connection closes.
func (c *Client) OnClose(fn func(c *Client)) {
	c.onClose = fn
}

// Start runs the read and write pumps and blocks until both return.
func (c *Client) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readPump(ctx)
	}()

	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	wg.Wait()
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if !strings.Contains(err.Error(), "close 1005") {
					log.Printf("websocket read error: %v", err)
				}
			}
			return
		}

		if err := c.handleMessage(ctx, message); err != nil {
			c.SendNotice(fmt.Sprintf("malformed message: %v", err))
		}
	}
}

// writePump drains sendCh to the connection, pacing through limiter when
// one is configured so a slow client's drain never blocks broadcast to
// anyone else (spec.md §5's backpressure requirement; SPEC_FULL.md §4.12).
func (c *Client) writePump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case message := <-c.sendCh:
			if c.limiter != nil {
				c.limiter.Wait()
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, message []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty message")
	}

	var msgType string
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	switch MessageType(msgType) {
	case MessageTypeEvent:
		return c.handleEventMessage(ctx, raw)
	case MessageTypeReq:
		return c.handleReqMessage(ctx, raw)
	case MessageTypeClose:
		return c.handleCloseMessage(ctx, raw)
	default:
		c.SendNotice(fmt.Sprintf("unsupported message type: %s", msgType))
		return nil
	}
}

// handleEventMessage parses the EVENT frame and hands it to the handler,
// which returns the single OK this sends — fixing the teacher's bug of
// sending its own unconditional OK on top of whatever the handler already
// sent for duplicate/deleted outcomes.
func (c *Client) handleEventMessage(ctx context.Context, raw []json.RawMessage) error {
	if len(raw) != 2 {
		return fmt.Errorf("EVENT message must have 2 elements")
	}

	var evt event.Event
	if err := json.Unmarshal(raw[1], &evt); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	if err := evt.ValidateShape(); err != nil {
		c.SendOK(evt.ID, false, fmt.Sprintf("invalid: %v", err))
		return nil
	}

	return c.handler.HandleEvent(ctx, c, &evt)
}

// handleReqMessage streams the backlog, sends EOSE, then — only once EOSE
// has been queued for delivery — either registers the surviving-filter
// subscription or closes it. Registration happens strictly after EOSE is
// queued on c.sendCh so a live broadcast for this subscription can never
// reach the client ahead of its EOSE, per spec.md §5's ordering guarantee.
func (c *Client) handleReqMessage(ctx context.Context, raw []json.RawMessage) error {
	if len(raw) < 2 {
		return fmt.Errorf("REQ message must have at least 2 elements")
	}

	var subID string
	if err := json.Unmarshal(raw[1], &subID); err != nil {
		return fmt.Errorf("invalid subscription id: %w", err)
	}
	if len(raw) < 3 {
		return fmt.Errorf("REQ message requires at least one filter")
	}

	var filters []*event.Filter
	for i := 2; i < len(raw); i++ {
		var filter event.Filter
		if err := json.Unmarshal(raw[i], &filter); err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
		filters = append(filters, &filter)
	}

	if err := c.handler.HandleReq(ctx, c, subID, filters); err != nil {
		return err
	}
	c.SendEOSE(subID)

	var surviving []*event.Filter
	for _, f := range filters {
		if f.IsTriviallyUnsatisfiable() || f.EffectiveLimit() == 0 {
			continue
		}
		surviving = append(surviving, f)
	}
	if len(surviving) == 0 {
		c.SendClosed(subID, "error: no effective filter")
		return nil
	}

	c.subMu.Lock()
	c.subscriptions[subID] = surviving
	c.subMu.Unlock()

	return c.handler.Subscribe(ctx, c, subID, surviving)
}

func (c *Client) handleCloseMessage(ctx context.Context, raw []json.RawMessage) error {
	if len(raw) != 2 {
		return fmt.Errorf("CLOSE message must have 2 elements")
	}

	var subID string
	if err := json.Unmarshal(raw[1], &subID); err != nil {
		return fmt.Errorf("invalid subscription id: %w", err)
	}

	c.subMu.Lock()
	delete(c.subscriptions, subID)
	c.subMu.Unlock()

	return c.handler.HandleClose(ctx, c, subID)
}

// SendEvent sends an EVENT frame for subID.
func (c *Client) SendEvent(subID string, evt *event.Event) error {
	return c.send([]interface{}{MessageTypeEvent, subID, evt})
}

// SendEOSE sends an end-of-stored-events frame for subID.
func (c *Client) SendEOSE(subID string) error {
	return c.send([]interface{}{MessageTypeEOSE, subID})
}

// SendOK sends the command result for an inbound EVENT.
func (c *Client) SendOK(eventID string, accepted bool, message string) error {
	return c.send([]interface{}{MessageTypeOK, eventID, accepted, message})
}

// SendNotice sends a human-readable NOTICE frame.
func (c *Client) SendNotice(message string) error {
	return c.send([]interface{}{MessageTypeNotice, message})
}

// SendClosed sends a CLOSED frame rejecting or ending a subscription.
func (c *Client) SendClosed(subID, reason string) error {
	return c.send([]interface{}{MessageTypeClosed, subID, reason})
}

func (c *Client) send(msg []interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// Close tears down the connection and, once, runs the registered onClose
// callback so the relay core can unregister this peer's subscriptions.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// GetSubscriptions returns a snapshot of the client's active subscriptions.
func (c *Client) GetSubscriptions() map[string][]*event.Filter {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	subs := make(map[string][]*event.Filter, len(c.subscriptions))
	for k, v := range c.subscriptions {
		subs[k] = v
	}
	return subs
}

// RemoteAddr returns the remote address of the client.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
