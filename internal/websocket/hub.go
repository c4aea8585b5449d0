package websocket

import (
	"log"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub управляет всеми активными WebSocket соединениями
//
// Центральный broadcast для real-time обновлений фронтенда: тики цен,
// статусы ордеров, позиции, уведомления и состояние риск-контура.
// Медленный клиент не блокирует остальных: при переполнении его буфера
// соединение закрывается.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run запускает главный цикл Hub (в отдельной горутине: go hub.Run())
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			// Список клиентов копируется под коротким RLock,
			// отправка идёт без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast сериализует и отправляет сообщение всем клиентам
//
// Не блокируется: при заполненном broadcast-канале сообщение
// отбрасывается. Торговый цикл не должен ждать фронтенд.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling broadcast message: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
	}
}

// BroadcastPrice отправляет тик цены
func (h *Hub) BroadcastPrice(symbol string, price float64) {
	h.Broadcast(&PriceUpdateMessage{
		Type:   MessageTypePriceUpdate,
		Symbol: symbol,
		Price:  price,
	})
}

// BroadcastPosition отправляет обновление позиции
func (h *Hub) BroadcastPosition(symbol string, data interface{}) {
	h.Broadcast(&PositionUpdateMessage{
		Type:   MessageTypePositionUpdate,
		Symbol: symbol,
		Data:   data,
	})
}

// BroadcastOrder отправляет обновление ордера
func (h *Hub) BroadcastOrder(symbol string, data interface{}) {
	h.Broadcast(&OrderUpdateMessage{
		Type:   MessageTypeOrderUpdate,
		Symbol: symbol,
		Data:   data,
	})
}

// BroadcastNotification отправляет уведомление
func (h *Hub) BroadcastNotification(data interface{}) {
	h.Broadcast(&NotificationMessage{
		Type: MessageTypeNotification,
		Data: data,
	})
}

// BroadcastRisk отправляет состояние риск-контура
func (h *Hub) BroadcastRisk(data interface{}) {
	h.Broadcast(&RiskUpdateMessage{
		Type: MessageTypeRiskUpdate,
		Data: data,
	})
}
