package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"

	"github.com/gorilla/websocket"
)

// Constants for hub configuration
const (
	MaxClients          = 100 // Maximum concurrent WebSocket clients
	WriteTimeout        = 10 * time.Second
	PongTimeout         = 60 * time.Second
	PingInterval        = 30 * time.Second
	DefaultPollInterval = 5 * time.Second
	QuoteBatchSize      = 20
	QuoteBatchDelay     = 100 * time.Millisecond

	quoteFetchTimeout = 10 * time.Second
)

// Message is the envelope for every frame pushed to clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// Client represents one WebSocket connection and its symbol
// subscriptions
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

// Hub fans quote updates, fired alerts and scan results out to
// WebSocket clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	maxClients int

	market       *marketdata.Service
	pollInterval time.Duration
	marketOpen   func(time.Time) bool
	isPolling    bool
	stopChan     chan struct{}
}

// GlobalHub is the application-wide hub instance
var GlobalHub *Hub

// NewHub creates a hub. Call Run in a goroutine before serving
// connections.
func NewHub(market *marketdata.Service) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxClients:   MaxClients,
		market:       market,
		pollInterval: DefaultPollInterval,
		marketOpen:   levels.IsMarketOpen,
		stopChan:     make(chan struct{}),
	}
}

// InitHub initializes the global hub and starts its dispatch loop
func InitHub(market *marketdata.Service, pollSec int) error {
	GlobalHub = NewHub(market)
	GlobalHub.SetPollInterval(pollSec)

	go GlobalHub.Run()

	log.Println("Realtime hub initialized")
	return nil
}

// Run dispatches register, unregister and broadcast events
func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", h.maxClients)
				continue
			}
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total clients: %d", clientCount)

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			deadClients := make([]*Client, 0)
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full, mark for removal
					deadClients = append(deadClients, client)
				}
			}
			for _, client := range deadClients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// Shutdown stops polling and closes every client connection
func (h *Hub) Shutdown() {
	h.StopPolling()
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	log.Println("Realtime hub shutdown complete")
}

// HandleWebSocket upgrades an HTTP request to a hub connection
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= h.maxClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		conn:       conn,
		send:       make(chan []byte, 256),
		subscribed: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// writePump writes queued messages and pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads subscribe and unsubscribe commands from the connection
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var cmd struct {
			Action  string   `json:"action"`
			Symbols []string `json:"symbols"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, symbol := range cmd.Symbols {
				if symbol == "" {
					continue
				}
				c.subscribed[strings.ToUpper(symbol)] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, symbol := range cmd.Symbols {
				delete(c.subscribed, strings.ToUpper(symbol))
			}
			c.mu.Unlock()
		}
	}
}

// StartPolling starts the quote poll loop
func (h *Hub) StartPolling() error {
	h.mu.Lock()
	if h.isPolling {
		h.mu.Unlock()
		return fmt.Errorf("quote polling already running")
	}
	h.isPolling = true
	h.stopChan = make(chan struct{})
	h.mu.Unlock()

	go h.pollQuotes()

	log.Printf("Started quote polling (interval: %v)", h.pollInterval)
	return nil
}

// StopPolling stops the quote poll loop
func (h *Hub) StopPolling() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isPolling {
		return
	}

	close(h.stopChan)
	h.isPolling = false
	log.Println("Quote polling stopped")
}

// pollQuotes fetches and broadcasts quotes on the poll interval
func (h *Hub) pollQuotes() {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	h.fetchAndBroadcast()

	for {
		select {
		case <-h.stopChan:
			return
		case <-ticker.C:
			h.fetchAndBroadcast()
		}
	}
}

// subscribedSymbols returns the sorted union of symbols clients have
// subscribed to.
func (h *Hub) subscribedSymbols() []string {
	seen := make(map[string]bool)

	h.mu.RLock()
	for client := range h.clients {
		client.mu.RLock()
		for symbol := range client.subscribed {
			seen[symbol] = true
		}
		client.mu.RUnlock()
	}
	h.mu.RUnlock()

	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// fetchAndBroadcast fetches quotes for all subscribed symbols and
// broadcasts one quotes frame. Skipped while the market is closed.
func (h *Hub) fetchAndBroadcast() {
	if h.market == nil {
		return
	}
	if h.marketOpen != nil && !h.marketOpen(time.Now()) {
		return
	}

	symbols := h.subscribedSymbols()
	if len(symbols) == 0 {
		return
	}

	quotes := make([]marketdata.Quote, 0, len(symbols))

	for i := 0; i < len(symbols); i += QuoteBatchSize {
		end := i + QuoteBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		for _, symbol := range symbols[i:end] {
			ctx, cancel := context.WithTimeout(context.Background(), quoteFetchTimeout)
			quote, err := h.market.FetchQuote(ctx, symbol)
			cancel()
			if err != nil {
				log.Printf("Warning: quote poll failed for %s: %v", symbol, err)
				continue
			}
			quotes = append(quotes, quote)
		}

		// Small delay between batches to avoid rate limiting
		if end < len(symbols) {
			time.Sleep(QuoteBatchDelay)
		}
	}

	if len(quotes) > 0 {
		h.broadcast <- Message{
			Type: "quotes",
			Data: quotes,
			Time: time.Now().Format(time.RFC3339),
		}
	}
}

// BroadcastMessage broadcasts a custom message to all clients
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	h.broadcast <- Message{
		Type: msgType,
		Data: data,
		Time: time.Now().Format(time.RFC3339),
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsPolling returns whether the quote poll loop is active
func (h *Hub) IsPolling() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isPolling
}

// SetPollInterval sets the poll interval in seconds, clamped to 1..300
func (h *Hub) SetPollInterval(seconds int) {
	if seconds < 1 {
		seconds = 1
	}
	if seconds > 300 {
		seconds = 300
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pollInterval = time.Duration(seconds) * time.Second
}

// Status returns hub status info
func (h *Hub) Status() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"is_polling":        h.isPolling,
		"client_count":      len(h.clients),
		"max_clients":       h.maxClients,
		"poll_interval_sec": int(h.pollInterval.Seconds()),
	}
}
