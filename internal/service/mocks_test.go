package service

import (
	"context"
	"sync"
	"time"

	"workspace-realtime/internal/domain"

	"github.com/stretchr/testify/mock"
)

// MockStorage é um mock do CounterStorage para testes
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (*domain.CounterResult, error) {
	args := m.Called(ctx, key, window, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CounterResult), args.Error(1)
}

func (m *MockStorage) Decrement(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, key string) (*domain.CounterRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CounterRecord), args.Error(1)
}

func (m *MockStorage) Reset(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockAlertDispatcher é um mock do AlertDispatcher
type MockAlertDispatcher struct {
	mock.Mock
}

func (m *MockAlertDispatcher) SendAlert(ctx context.Context, alertType domain.AlertType, details map[string]string) {
	m.Called(ctx, alertType, details)
}

// MockTransport é um mock do AlertTransport
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) SendEmail(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

func (m *MockTransport) SendWebhook(ctx context.Context, url string, payload interface{}) error {
	args := m.Called(ctx, url, payload)
	return args.Error(0)
}

// MockNotificationStore é um mock do NotificationStore
type MockNotificationStore struct {
	mock.Mock
}

func (m *MockNotificationStore) FindWorkspaceOwner(ctx context.Context, workspaceID string) (string, error) {
	args := m.Called(ctx, workspaceID)
	return args.String(0), args.Error(1)
}

func (m *MockNotificationStore) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

type broadcastCall struct {
	Room  string
	Event domain.OutboundEvent
}

// recordingBroadcaster guarda as transmissões em vez de entregá-las
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(room string, evt domain.OutboundEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{Room: room, Event: evt})
	return 1
}

func (b *recordingBroadcaster) Calls() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcastCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// recordingQueue guarda as mensagens enfileiradas para derivação
type recordingQueue struct {
	mu     sync.Mutex
	events []domain.ChatEvent
}

func (q *recordingQueue) Enqueue(evt domain.ChatEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, evt)
	return true
}

func (q *recordingQueue) Events() []domain.ChatEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.ChatEvent, len(q.events))
	copy(out, q.events)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
