package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/logger"
	"workspace-realtime/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNotificationDeriver_Derive(t *testing.T) {
	longText := strings.Repeat("a", 120)

	tests := []struct {
		name                string
		evt                 domain.ChatEvent
		expectRoom          string
		expectEvent         domain.OutboundKind
		expectPersist       bool
		expectedDescription string
	}{
		{
			name:                "Should persist and push a notification to the owner when the client writes",
			evt:                 domain.ChatEvent{WorkspaceID: "ws-1", Sender: domain.SenderCounterparty, Text: "Hi, any update?"},
			expectRoom:          "user:owner-1",
			expectEvent:         domain.EventNotification,
			expectPersist:       true,
			expectedDescription: "Hi, any update?",
		},
		{
			name:                "Should truncate long client messages",
			evt:                 domain.ChatEvent{WorkspaceID: "ws-1", Sender: domain.SenderCounterparty, Text: longText},
			expectRoom:          "user:owner-1",
			expectEvent:         domain.EventNotification,
			expectPersist:       true,
			expectedDescription: strings.Repeat("a", 100) + "...",
		},
		{
			name:                "Should push an ephemeral notification to the workspace when the owner writes",
			evt:                 domain.ChatEvent{WorkspaceID: "ws-1", Sender: domain.SenderOwner, Text: longText},
			expectRoom:          "workspace:ws-1",
			expectEvent:         domain.EventClientNotification,
			expectedDescription: strings.Repeat("a", 100) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			store := new(MockNotificationStore)
			broadcaster := &recordingBroadcaster{}
			deriver := NewNotificationDeriver(store, broadcaster, DeriverConfig{}, logger.Nop())

			store.On("FindWorkspaceOwner", mock.Anything, "ws-1").Return("owner-1", nil).Once()
			if tt.expectPersist {
				store.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *domain.Notification) bool {
					return n.RecipientUserID == "owner-1" &&
						n.Type == domain.NotificationTypeMessage &&
						n.Title == "New message from client" &&
						n.Description == tt.expectedDescription &&
						n.Link == "/workspaces/ws-1/chat" &&
						n.WorkspaceID == "ws-1" &&
						!n.Read
				})).Return(&domain.Notification{ID: "n-1", RecipientUserID: "owner-1", Description: tt.expectedDescription}, nil).Once()
			}

			// Act
			err := deriver.Derive(context.Background(), tt.evt)

			// Assert
			require.NoError(t, err)
			calls := broadcaster.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.expectRoom, calls[0].Room)
			assert.Equal(t, tt.expectEvent, calls[0].Event.Kind)

			switch payload := calls[0].Event.Payload.(type) {
			case *domain.Notification:
				assert.Equal(t, "n-1", payload.ID)
				assert.Equal(t, tt.expectedDescription, payload.Description)
			case domain.ClientNotification:
				assert.Equal(t, tt.expectedDescription, payload.Description)
				assert.Equal(t, "/workspaces/ws-1/chat", payload.Link)
			default:
				t.Fatalf("unexpected payload %T", payload)
			}

			store.AssertExpectations(t)
			if !tt.expectPersist {
				store.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestNotificationDeriver_Failures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(store *MockNotificationStore)
		sender      domain.Sender
		expectStage string
	}{
		{
			name: "Should report owner lookup failure",
			setup: func(store *MockNotificationStore) {
				store.On("FindWorkspaceOwner", mock.Anything, "ws-9").Return("", domain.ErrWorkspaceNotFound)
			},
			sender:      domain.SenderCounterparty,
			expectStage: "owner-lookup",
		},
		{
			name: "Should report persistence failure",
			setup: func(store *MockNotificationStore) {
				store.On("FindWorkspaceOwner", mock.Anything, "ws-9").Return("owner-9", nil)
				store.On("CreateNotification", mock.Anything, mock.Anything).Return(nil, errors.New("insert failed"))
			},
			sender:      domain.SenderCounterparty,
			expectStage: "persist",
		},
		{
			name: "Should reject unknown senders",
			setup: func(store *MockNotificationStore) {
				store.On("FindWorkspaceOwner", mock.Anything, "ws-9").Return("owner-9", nil)
			},
			sender:      "robot",
			expectStage: "route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			store := new(MockNotificationStore)
			tt.setup(store)
			broadcaster := &recordingBroadcaster{}
			deriver := NewNotificationDeriver(store, broadcaster, DeriverConfig{}, logger.Nop())

			// Act
			err := deriver.Derive(context.Background(), domain.ChatEvent{WorkspaceID: "ws-9", Sender: tt.sender, Text: "hello"})

			// Assert
			var failure *domain.RelayFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.expectStage, failure.Stage)
			assert.Equal(t, "ws-9", failure.WorkspaceID)
			assert.Empty(t, broadcaster.Calls())
		})
	}
}

func TestNotificationDeriver_WorkersDrainOnStop(t *testing.T) {
	// Arrange
	store := storage.NewMemoryNotificationStore(map[string]string{"ws-1": "owner-1"})
	broadcaster := &recordingBroadcaster{}
	deriver := NewNotificationDeriver(store, broadcaster, DeriverConfig{Workers: 2, QueueSize: 16}, logger.Nop())
	deriver.Start()

	// Act
	for i := 0; i < 5; i++ {
		require.True(t, deriver.Enqueue(domain.ChatEvent{WorkspaceID: "ws-1", Sender: domain.SenderCounterparty, Text: "ping"}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stopErr := deriver.Stop(ctx)

	// Assert
	require.NoError(t, stopErr)
	notifications, err := store.ListNotifications(context.Background(), "owner-1", 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 5)

	ids := make(map[string]struct{})
	for _, n := range notifications {
		ids[n.ID] = struct{}{}
	}
	assert.Len(t, ids, 5)
	assert.Len(t, broadcaster.Calls(), 5)
	assert.False(t, deriver.Enqueue(domain.ChatEvent{WorkspaceID: "ws-1", Sender: domain.SenderOwner, Text: "late"}))
}

func TestNotificationDeriver_EnqueueDropsWhenFull(t *testing.T) {
	deriver := NewNotificationDeriver(new(MockNotificationStore), &recordingBroadcaster{}, DeriverConfig{QueueSize: 1}, logger.Nop())

	first := deriver.Enqueue(domain.ChatEvent{WorkspaceID: "ws-1", Sender: domain.SenderOwner, Text: "one"})
	second := deriver.Enqueue(domain.ChatEvent{WorkspaceID: "ws-1", Sender: domain.SenderOwner, Text: "two"})

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, deriver.Pending())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{name: "Should keep short text", text: "hello", expected: "hello"},
		{name: "Should keep text of exactly 100 characters", text: strings.Repeat("b", 100), expected: strings.Repeat("b", 100)},
		{name: "Should cut text of 101 characters", text: strings.Repeat("c", 101), expected: strings.Repeat("c", 100) + "..."},
		{name: "Should count characters, not bytes", text: strings.Repeat("é", 100), expected: strings.Repeat("é", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncate(tt.text, 100))
		})
	}
}
