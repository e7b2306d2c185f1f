package realtime

import (
	"sync"
	"time"

	"workspace-realtime/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024

	// DefaultQueueSize é o tamanho da fila de saída de cada conexão
	DefaultQueueSize = 256
)

// Connection é uma conexão ao vivo com fila de saída própria.
// A fila nunca é fechada; o fim da conexão é sinalizado por done.
type Connection struct {
	ID     string
	IP     string
	UserID string

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection cria uma conexão; ws pode ser nil quando só a fila é usada
func NewConnection(ws *websocket.Conn, ip, userID string, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Connection{
		ID:     uuid.NewString(),
		IP:     ip,
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue tenta colocar o frame na fila sem bloquear
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Send codifica e enfileira um evento direto para esta conexão
func (c *Connection) Send(evt domain.OutboundEvent) bool {
	frame, err := evt.Encode()
	if err != nil {
		return false
	}
	return c.Enqueue(frame)
}

// Outbound expõe a fila de saída (usado por quem consome sem websocket)
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done é fechado quando a conexão termina
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closed indica se a conexão já terminou
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close encerra a conexão; chamadas repetidas são ignoradas
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// ReadPump lê frames até erro ou fechamento e entrega cada um ao handle
func (c *Connection) ReadPump(handle func(raw []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

// WritePump drena a fila e mantém o keep-alive com ping periódico
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
