package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ltmoamin/RentalCar/client"
	"github.com/ltmoamin/RentalCar/internal/api"
	"github.com/ltmoamin/RentalCar/internal/models"
)

const (
	testAPIAddr   = "127.0.0.1:18880"
	testAdminAddr = "127.0.0.1:18881"
)

func TestIntegration(t *testing.T) {
	tmpDir := t.TempDir()

	t.Setenv("RENTALCAR_DB", filepath.Join(tmpDir, "integration_test.db"))
	t.Setenv("UPLOADS_PATH", filepath.Join(tmpDir, "uploads"))
	t.Setenv("ADMIN_ADDR", testAdminAddr)
	t.Setenv("API_ADDR", testAPIAddr)
	t.Setenv("BASE_URL", "http://"+testAPIAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()
	waitForServer(t, testAPIAddr)
	waitForServer(t, testAdminAddr)

	// Provision a customer and a support agent through the admin API
	provisionUser(t, "alice@example.com", "Alice", "customer-pw", "USER")
	provisionUser(t, "support@example.com", "Support", "support-pw", "ADMIN")

	baseURL := "http://" + testAPIAddr

	// Customer logs in and connects
	customer := client.New(baseURL)
	custUser, err := customer.Login("alice@example.com", "customer-pw")
	require.NoError(t, err)
	require.Equal(t, "Alice", custUser.Name)
	defer customer.Logout()

	require.Eventually(t, func() bool {
		return customer.ConnectionState() == client.StateConnected
	}, 5*time.Second, 50*time.Millisecond, "customer never connected")

	// Agent logs in and connects
	agent := client.New(baseURL)
	agentUser, err := agent.Login("support@example.com", "support-pw")
	require.NoError(t, err)
	defer agent.Logout()

	require.Eventually(t, func() bool {
		return agent.ConnectionState() == client.StateConnected
	}, 5*time.Second, 50*time.Millisecond, "agent never connected")

	// The customer sees the agent in the partner list
	partners, err := customer.Partners()
	require.NoError(t, err)
	require.Len(t, partners, 1)
	require.Equal(t, agentUser.ID, partners[0].ID)

	// Customer starts the thread and sends a message
	conv, err := customer.StartConversation(agentUser.ID)
	require.NoError(t, err)

	custStream, err := customer.OpenConversation(conv.ID)
	require.NoError(t, err)

	sent, err := custStream.Send(models.SendMessageRequest{
		ReceiverID:  agentUser.ID,
		Content:     "hi, my rental has a flat tire",
		MessageType: models.MessageTypeText,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)

	// The echo de-duplicates against the REST confirmation
	require.Eventually(t, func() bool {
		count := 0
		for _, m := range custStream.Messages() {
			if m.ID == sent.ID {
				count++
			}
		}
		return count == 1
	}, 5*time.Second, 50*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	count := 0
	for _, m := range custStream.Messages() {
		if m.ID == sent.ID {
			count++
		}
	}
	require.Equal(t, 1, count, "stream echo duplicated the message")

	// The agent's store picks the message up as a background unread
	require.Eventually(t, func() bool {
		c, ok := agent.Conversations().Get(conv.ID)
		return ok && c.UnreadCount == 1
	}, 5*time.Second, 50*time.Millisecond, "agent unread counter never incremented")

	// And a chat notification lands in the agent's feed
	require.Eventually(t, func() bool {
		return agent.Notifications().UnreadCount() == 1
	}, 5*time.Second, 50*time.Millisecond, "agent notification never arrived")

	grouped := agent.Notifications().Grouped()
	require.NotEmpty(t, grouped)
	require.Equal(t, models.ChatNotificationTitlePrefix+"Alice", grouped[0].Title)

	// Agent opens the thread; the customer gets the read receipt
	agentStream, err := agent.OpenConversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, agentStream.Messages(), 1)

	require.Eventually(t, func() bool {
		for _, m := range custStream.Messages() {
			if m.ID == sent.ID {
				return m.Read
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "read receipt never applied")

	// Agent replies; the customer's active stream receives it
	reply, err := agentStream.Send(models.SendMessageRequest{
		ReceiverID:  custUser.ID,
		Content:     "we will swap the car within the hour",
		MessageType: models.MessageTypeText,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, m := range custStream.Messages() {
			if m.ID == reply.ID {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "reply never reached the customer stream")

	// The customer's open thread never counts unread
	c, ok := customer.Conversations().Get(conv.ID)
	require.True(t, ok)
	require.Equal(t, 0, c.UnreadCount)

	// Typing indicator crosses over
	agent.Typing().InputActivity(conv.ID)
	require.Eventually(t, func() bool {
		ind, ok := customer.TypingState(conv.ID)
		return ok && ind.IsTyping && ind.UserName == "Support"
	}, 5*time.Second, 50*time.Millisecond, "typing indicator never arrived")

	// Notification read flow round trip
	require.NoError(t, agent.Notifications().MarkRead(grouped[0]))
	require.NoError(t, agent.RefreshNotifications())
	require.Equal(t, 0, agent.Notifications().UnreadCount())

	// Server-side list agrees with the client view after a refresh
	require.NoError(t, customer.RefreshConversations())
	list := customer.Conversations().List()
	require.Len(t, list, 1)
	require.Equal(t, conv.ID, list[0].ID)
	require.Contains(t, list[0].LastMessage, "swap the car")
}

func provisionUser(t *testing.T, email, name, password, role string) {
	t.Helper()

	reqBody, err := json.Marshal(api.AddUserRequest{
		Email:    email,
		Name:     name,
		Password: password,
		Role:     role,
	})
	require.NoError(t, err)

	resp, err := http.Post(
		fmt.Sprintf("http://%s/admin/users", testAdminAddr),
		"application/json",
		bytes.NewBuffer(reqBody),
	)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.AddUserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.True(t, result.Success)
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	for i := 0; i < 50; i++ {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s", addr)
}
