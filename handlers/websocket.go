package handlers

import (
	"bytes"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"robosim-backend/models"
)

// 클라이언트 인코딩
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// wsConn - 클라이언트 연결에서 허브가 쓰는 부분
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Client struct {
	ID     string
	Conn   wsConn
	Addr   string
	Format string // "json" 또는 "msgpack"

	// 등록 직후 허브가 보내는 첫 메시지
	welcome *encodedMessage
}

// CommandFunc - 웹 클라이언트 명령 처리기
type CommandFunc func(cmd models.CommandData) error

// 클라이언트 관리자
type ClientManager struct {
	clients    map[*Client]struct{}
	broadcast  chan models.WebSocketMessage
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mutex      sync.RWMutex

	onCommand CommandFunc
}

// inboundMessage - Web → Server 메시지
type inboundMessage struct {
	Type string             `json:"type"`
	Data models.CommandData `json:"data"`
}

// NewClientManager - 클라이언트 관리자 생성
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan models.WebSocketMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		quit:       make(chan struct{}),
	}
}

// SetCommandHandler - 명령 처리기 연결
func (manager *ClientManager) SetCommandHandler(fn CommandFunc) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.onCommand = fn
}

// 클라이언트 관리 시작
//
// 연결에 쓰는 것은 이 고루틴뿐이다.
func (manager *ClientManager) Start() {
	for {
		select {
		case client := <-manager.register:
			manager.mutex.Lock()
			manager.clients[client] = struct{}{}
			manager.mutex.Unlock()
			log.Printf("클라이언트 등록: %s (%s, %s)", client.ID, client.Format, client.Addr)

			if client.welcome != nil {
				if err := writeEncoded(client.Conn, client.Format, *client.welcome); err != nil {
					log.Printf("전송 실패 (%s): %v", client.ID, err)
					manager.remove(client)
				}
			}

		case client := <-manager.unregister:
			manager.remove(client)

		case message := <-manager.broadcast:
			manager.handleBroadcast(message)

		case <-manager.quit:
			return
		}
	}
}

// Stop - 관리 루프 종료
func (manager *ClientManager) Stop() {
	close(manager.quit)
}

// addClient - 허브에 등록. 허브가 멈췄으면 false
func (manager *ClientManager) addClient(client *Client) bool {
	select {
	case manager.register <- client:
		return true
	case <-manager.quit:
		return false
	}
}

// removeClient - 허브에 해제 요청. 허브가 멈췄으면 직접 닫는다
func (manager *ClientManager) removeClient(client *Client) {
	select {
	case manager.unregister <- client:
	case <-manager.quit:
		_ = client.Conn.Close()
	}
}

func (manager *ClientManager) remove(client *Client) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if _, ok := manager.clients[client]; ok {
		delete(manager.clients, client)
		_ = client.Conn.Close()
		log.Printf("클라이언트 해제: %s (%s)", client.ID, client.Addr)
	}
}

func (manager *ClientManager) handleBroadcast(message models.WebSocketMessage) {
	payload, err := encodeMessages(message)
	if err != nil {
		log.Printf("❌ 메시지 인코딩 실패 (%s): %v", message.Type, err)
		return
	}

	var failed []*Client

	manager.mutex.RLock()
	for client := range manager.clients {
		if err := writeEncoded(client.Conn, client.Format, payload); err != nil {
			log.Printf("전송 실패 (%s): %v", client.ID, err)
			failed = append(failed, client)
		}
	}
	manager.mutex.RUnlock()

	for _, client := range failed {
		manager.remove(client)
	}
}

// encodedMessage - 포맷별로 한 번만 인코딩한 메시지
type encodedMessage struct {
	json    []byte
	msgpack []byte
}

func encodeMessages(message models.WebSocketMessage) (encodedMessage, error) {
	var out encodedMessage
	var err error
	if out.json, err = json.Marshal(message); err != nil {
		return out, err
	}
	if out.msgpack, err = EncodeMsgpack(message); err != nil {
		return out, err
	}
	return out, nil
}

func writeEncoded(conn wsConn, format string, payload encodedMessage) error {
	if format == FormatMsgpack {
		return conn.WriteMessage(websocket.BinaryMessage, payload.msgpack)
	}
	return conn.WriteMessage(websocket.TextMessage, payload.json)
}

// EncodeMsgpack - json 태그를 따르는 msgpack 인코딩
func EncodeMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMsgpack - json 태그를 따르는 msgpack 디코딩
func DecodeMsgpack(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// 외부에서 호출할 수 있는 브로드캐스트 메서드 (비차단)
func (manager *ClientManager) BroadcastMessage(msg models.WebSocketMessage) {
	select {
	case manager.broadcast <- msg:
	default:
		log.Printf("⚠️ broadcast 채널 가득 참, 메시지 무시: %s", msg.Type)
	}
}

func (manager *ClientManager) GetClientCount() map[string]int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	count := map[string]int{
		FormatJSON:    0,
		FormatMsgpack: 0,
	}

	for client := range manager.clients {
		count[client.Format]++
	}

	return count
}

// Web 클라이언트 WebSocket Handler
//
// ?format=msgpack이면 바이너리 msgpack 프레임으로 주고받는다.
func (manager *ClientManager) HandleWebClientWebSocket(c *websocket.Conn) {
	format := FormatJSON
	if c.Query("format") == FormatMsgpack {
		format = FormatMsgpack
	}
	client := &Client{
		ID:     uuid.New().String(),
		Conn:   c,
		Addr:   c.RemoteAddr().String(),
		Format: format,
	}

	// 연결 확인 메시지 (허브가 등록 직후 전송)
	welcomeMsg := models.WebSocketMessage{
		Type: models.MessageTypeSystemInfo,
		Data: map[string]interface{}{
			"message":      "웹 클라이언트 연결됨",
			"client_id":    client.ID,
			"format":       format,
			"connected_at": time.Now().Format(time.RFC3339),
		},
		Timestamp: time.Now().UnixMilli(),
	}
	if payload, err := encodeMessages(welcomeMsg); err == nil {
		client.welcome = &payload
	}

	if !manager.addClient(client) {
		_ = c.Close()
		return
	}
	defer manager.removeClient(client)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			log.Printf("웹 메시지 읽기 오류: %v", err)
			break
		}

		msg, err := decodeInbound(format, data)
		if err != nil {
			log.Printf("⚠️ 메시지 해석 실패: %v", err)
			continue
		}

		switch msg.Type {
		case models.MessageTypeCommand:
			manager.mutex.RLock()
			onCommand := manager.onCommand
			manager.mutex.RUnlock()
			if onCommand == nil {
				continue
			}
			if err := onCommand(msg.Data); err != nil {
				log.Printf("⚠️ 명령 실패 (%s): %v", msg.Data.Action, err)
			}

		default:
			log.Printf("알 수 없는 메시지 타입: %s", msg.Type)
		}
	}
}

func decodeInbound(format string, data []byte) (inboundMessage, error) {
	var msg inboundMessage
	if format == FormatMsgpack {
		err := DecodeMsgpack(data, &msg)
		return msg, err
	}
	err := json.Unmarshal(data, &msg)
	return msg, err
}
