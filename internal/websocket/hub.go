package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

// Client represents one WebSocket connection. A client belongs to at most
// one project fan-out group at a time; until it joins one it receives only
// direct replies.
type Client struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	projectID string // guarded by hub.mu
}

// Hub maintains the per-project sets of connected clients and fans out
// broadcast-class messages.
type Hub struct {
	// Clients grouped by project ID
	groups map[string]map[*Client]bool

	broadcast chan *BroadcastMessage

	mu  sync.RWMutex
	log *logrus.Logger
}

// BroadcastMessage is one message bound for a project group. Sender, when
// set, is excluded from delivery.
type BroadcastMessage struct {
	ProjectID string
	Message   []byte
	Sender    *Client
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		groups:    make(map[string]map[*Client]bool),
		broadcast: make(chan *BroadcastMessage, 256),
		log:       log,
	}
}

// Run starts the hub's fan-out loop.
func (h *Hub) Run() {
	for msg := range h.broadcast {
		var dropped []*Client

		h.mu.RLock()
		for client := range h.groups[msg.ProjectID] {
			if client == msg.Sender {
				continue
			}
			select {
			case client.Send <- msg.Message:
			default:
				// Slow consumer; drop it rather than block the hub.
				dropped = append(dropped, client)
			}
		}
		h.mu.RUnlock()

		for _, client := range dropped {
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			if client.Conn != nil {
				client.Conn.Close()
			}
		}
	}
}

// Join binds the client to a project group, unbinding it from any previous
// group. Joining the same project again just rebinds.
func (h *Hub) Join(client *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client)
	if h.groups[projectID] == nil {
		h.groups[projectID] = make(map[*Client]bool)
	}
	h.groups[projectID][client] = true
	client.projectID = projectID
	h.log.WithFields(logrus.Fields{
		"clientId":  client.ID,
		"projectId": projectID,
	}).Debug("client joined project")
}

// Leave removes the client from its group immediately. No replay of missed
// messages after this point.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if client.projectID == "" {
		return
	}
	if group, ok := h.groups[client.projectID]; ok {
		delete(group, client)
		if len(group) == 0 {
			delete(h.groups, client.projectID)
		}
	}
	client.projectID = ""
}

// Broadcast queues a message for everyone in the project group except the
// sender. Delivery is best-effort and at-most-once.
func (h *Hub) Broadcast(projectID string, message []byte, sender *Client) {
	h.broadcast <- &BroadcastMessage{
		ProjectID: projectID,
		Message:   message,
		Sender:    sender,
	}
}

// JobUpdated fans a job state change out to everyone viewing its project.
// Satisfies the engine's Events interface.
func (h *Hub) JobUpdated(job *model.Job) {
	msg := model.WSExportUpdate{
		Type:        model.WSMessageTypeExportUpdate,
		ProjectID:   job.ProjectID,
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		Output:      job.Output,
		Timestamp:   time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal export update")
		return
	}
	h.Broadcast(job.ProjectID, data, nil)
}

// HandleMessage processes one inbound frame from a client. Bad payloads get
// an error reply on that connection only; the hub and other clients are
// unaffected.
func (h *Hub) HandleMessage(client *Client, raw []byte) {
	var envelope model.WSEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.sendError(client, "BAD_PAYLOAD", "Invalid message format")
		return
	}

	switch envelope.Type {
	case model.WSMessageTypePing:
		h.send(client, model.WSPongMessage{Type: model.WSMessageTypePong})

	case model.WSMessageTypeJoinProject:
		if envelope.ProjectID == "" {
			h.sendError(client, "BAD_PAYLOAD", "join_project requires projectId")
			return
		}
		h.Join(client, envelope.ProjectID)
		h.send(client, model.WSJoinedMessage{
			Type:      model.WSMessageTypeJoined,
			ProjectID: envelope.ProjectID,
			ClientID:  client.ID,
		})

	case model.WSMessageTypeTimelineUpdate:
		h.forwardTimelineUpdate(client, raw)

	case "":
		h.sendError(client, "BAD_PAYLOAD", "Missing message type")

	default:
		h.sendError(client, "UNKNOWN_TYPE", "Unrecognized message type: "+envelope.Type)
	}
}

// forwardTimelineUpdate re-broadcasts the sender's payload to its project
// peers with a server timestamp stamped on. Never echoed back to the sender.
func (h *Hub) forwardTimelineUpdate(client *Client, raw []byte) {
	h.mu.RLock()
	projectID := client.projectID
	h.mu.RUnlock()
	if projectID == "" {
		h.sendError(client, "NOT_JOINED", "Join a project before sending timeline updates")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(client, "BAD_PAYLOAD", "Invalid message format")
		return
	}
	payload["projectId"] = projectID
	payload["timestamp"] = time.Now().UnixMilli()

	data, err := json.Marshal(payload)
	if err != nil {
		h.sendError(client, "BAD_PAYLOAD", "Invalid message format")
		return
	}
	h.Broadcast(projectID, data, client)
}

func (h *Hub) send(client *Client, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal message")
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (h *Hub) sendError(client *Client, code, message string) {
	h.send(client, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		Error: model.WSError{Code: code, Message: message},
	})
}

// HandleConnection runs the read/write pump for one connection until it
// closes. The welcome acknowledgment goes out before anything else.
func (h *Hub) HandleConnection(c *websocket.Conn) {
	client := &Client{
		ID:   uuid.New().String(),
		Conn: c,
		Send: make(chan []byte, 256),
	}
	defer h.Leave(client)

	h.send(client, model.WSWelcomeMessage{
		Type:     model.WSMessageTypeWelcome,
		ClientID: client.ID,
	})

	// Writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Protocol-level ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket closed")
			}
			break
		}
		h.HandleMessage(client, message)
	}
}
