package realtime

import (
	"sort"
	"sync"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/metrics"
)

const (
	userRoomPrefix      = "user:"
	workspaceRoomPrefix = "workspace:"
)

// UserRoom retorna a sala pessoal de um usuário
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// WorkspaceRoom retorna a sala de um workspace
func WorkspaceRoom(workspaceID string) string {
	return workspaceRoomPrefix + workspaceID
}

// RegistryStats é um retrato do registro para a superfície administrativa
type RegistryStats struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	Memberships int            `json:"memberships"`
	RoomSizes   map[string]int `json:"roomSizes,omitempty"`
}

// Registry mantém salas e participações; as duas visões mudam sob o mesmo lock
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Connection]struct{}
	memberships map[*Connection]map[string]struct{}
	logger      domain.Logger
}

// NewRegistry cria um registro vazio
func NewRegistry(logger domain.Logger) *Registry {
	return &Registry{
		rooms:       make(map[string]map[*Connection]struct{}),
		memberships: make(map[*Connection]map[string]struct{}),
		logger:      logger,
	}
}

// Register passa a contar a conexão mesmo antes de entrar em alguma sala
func (r *Registry) Register(conn *Connection) {
	if conn.Closed() {
		return
	}

	r.mu.Lock()
	if _, ok := r.memberships[conn]; !ok {
		r.memberships[conn] = make(map[string]struct{})
	}
	connections := len(r.memberships)
	r.mu.Unlock()

	metrics.WsConnections.Set(float64(connections))
}

// Join adiciona a conexão à sala; retorna false se já era membro ou a conexão terminou
func (r *Registry) Join(conn *Connection, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Checado sob o lock para não recriar participações depois de OnDisconnect
	if conn.Closed() {
		return false
	}

	rooms, ok := r.memberships[conn]
	if !ok {
		rooms = make(map[string]struct{})
		r.memberships[conn] = rooms
	}
	if _, already := rooms[room]; already {
		return false
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Connection]struct{})
		r.rooms[room] = members
	}
	members[conn] = struct{}{}
	rooms[room] = struct{}{}

	metrics.RoomsActive.Set(float64(len(r.rooms)))
	return true
}

// Leave remove a conexão da sala; salas vazias são apagadas
func (r *Registry) Leave(conn *Connection, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberships[conn]
	if !ok {
		return false
	}
	if _, member := rooms[room]; !member {
		return false
	}

	delete(rooms, room)
	r.removeMember(room, conn)

	metrics.RoomsActive.Set(float64(len(r.rooms)))
	return true
}

// OnDisconnect remove todas as participações da conexão de uma vez; idempotente
func (r *Registry) OnDisconnect(conn *Connection) []string {
	conn.Close()

	r.mu.Lock()
	rooms, ok := r.memberships[conn]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	left := make([]string, 0, len(rooms))
	for room := range rooms {
		r.removeMember(room, conn)
		left = append(left, room)
	}
	delete(r.memberships, conn)

	connections := len(r.memberships)
	activeRooms := len(r.rooms)
	r.mu.Unlock()

	metrics.WsConnections.Set(float64(connections))
	metrics.RoomsActive.Set(float64(activeRooms))

	sort.Strings(left)
	return left
}

// Broadcast codifica o evento uma vez e enfileira para cada membro sem bloquear.
// Retorna quantos membros receberam o frame.
func (r *Registry) Broadcast(room string, evt domain.OutboundEvent) int {
	members := r.Members(room)
	if len(members) == 0 {
		return 0
	}

	frame, err := evt.Encode()
	if err != nil {
		r.logger.Error("Failed to encode broadcast event", err, map[string]interface{}{
			"room":  room,
			"event": string(evt.Kind),
		})
		return 0
	}

	delivered := 0
	for _, conn := range members {
		if conn.Enqueue(frame) {
			delivered++
			continue
		}
		if conn.Closed() {
			continue
		}
		metrics.DroppedFramesTotal.Inc()
		r.logger.Warn("Dropping frame for slow connection", map[string]interface{}{
			"room":          room,
			"event":         string(evt.Kind),
			"connection_id": conn.ID,
		})
	}

	metrics.BroadcastsTotal.WithLabelValues(string(evt.Kind)).Inc()
	r.logger.Debug("Event broadcast", map[string]interface{}{
		"room":      room,
		"event":     string(evt.Kind),
		"members":   len(members),
		"delivered": delivered,
	})

	return delivered
}

// Members retorna um retrato dos membros da sala
func (r *Registry) Members(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	list := make([]*Connection, 0, len(members))
	for conn := range members {
		list = append(list, conn)
	}
	return list
}

// Rooms retorna as salas de uma conexão em ordem alfabética
func (r *Registry) Rooms(conn *Connection) []string {
	r.mu.RLock()
	rooms := r.memberships[conn]
	list := make([]string, 0, len(rooms))
	for room := range rooms {
		list = append(list, room)
	}
	r.mu.RUnlock()

	sort.Strings(list)
	return list
}

// Stats retorna contadores do registro
func (r *Registry) Stats(withRooms bool) RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Connections: len(r.memberships),
		Rooms:       len(r.rooms),
	}
	for _, rooms := range r.memberships {
		stats.Memberships += len(rooms)
	}
	if withRooms {
		stats.RoomSizes = make(map[string]int, len(r.rooms))
		for room, members := range r.rooms {
			stats.RoomSizes[room] = len(members)
		}
	}
	return stats
}

// removeMember exige r.mu em modo escrita
func (r *Registry) removeMember(room string, conn *Connection) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
