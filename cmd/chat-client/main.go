// chat-client is a small terminal client for the chat server, mainly
// useful for poking at a running instance.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ltmoamin/RentalCar/client"
	"github.com/ltmoamin/RentalCar/internal/models"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Server base URL")
	email := flag.String("email", "", "Login email")
	password := flag.String("password", "", "Login password")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("-email and -password are required")
	}

	c := client.New(*server)
	self, err := c.Login(*email, *password)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}
	defer c.Logout()

	fmt.Printf("Logged in as %s (%s)\n", self.Name, self.Role)

	go func() {
		for state := range c.States() {
			fmt.Printf("* connection: %s\n", state)
		}
	}()

	if err := c.RefreshConversations(); err != nil {
		log.Fatalf("Failed to fetch conversations: %v", err)
	}
	if err := c.RefreshNotifications(); err != nil {
		log.Fatalf("Failed to fetch notifications: %v", err)
	}

	printHelp()
	printConversations(c, self)

	var active *client.Stream
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/help":
			printHelp()
		case line == "/list":
			if err := c.RefreshConversations(); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			printConversations(c, self)
		case line == "/partners":
			partners, err := c.Partners()
			if err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			for i, p := range partners {
				fmt.Printf("%d. %s (%s)\n", i+1, p.Name, p.ID)
			}
		case strings.HasPrefix(line, "/start "):
			conv, err := c.StartConversation(strings.TrimSpace(strings.TrimPrefix(line, "/start ")))
			if err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			active = openConversation(c, conv.ID)
		case strings.HasPrefix(line, "/open "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			if err != nil {
				fmt.Println("! usage: /open <number>")
				continue
			}
			list := c.Conversations().List()
			if n < 1 || n > len(list) {
				fmt.Println("! no such conversation")
				continue
			}
			active = openConversation(c, list[n-1].ID)
		case line == "/notifications":
			printNotifications(c)
		case line == "/read-all":
			c.Notifications().MarkAllRead()
			fmt.Println("* all notifications marked read")
		case line == "" || strings.HasPrefix(line, "/"):
			fmt.Println("! unknown command, try /help")
		default:
			if active == nil {
				fmt.Println("! open a conversation first (/open <number>)")
				continue
			}
			sendText(c, active, line)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  /list                 refresh and list conversations
  /open <number>        open a conversation
  /partners             list chat partners
  /start <partner-id>   start a conversation
  /notifications        show the notification feed
  /read-all             mark all notifications read
  /quit                 exit
anything else is sent as a message to the open conversation`)
}

func printConversations(c *client.Client, self models.User) {
	list := c.Conversations().List()
	if len(list) == 0 {
		fmt.Println("No conversations yet. Use /partners and /start.")
		return
	}
	for i, conv := range list {
		name := conv.AdminName
		if conv.UserID != self.ID {
			name = conv.UserName
		}
		marker := " "
		if conv.UnreadCount > 0 {
			marker = fmt.Sprintf("(%d)", conv.UnreadCount)
		}
		fmt.Printf("%d. %s %s %s\n", i+1, name, marker, conv.LastMessage)
	}
}

func printNotifications(c *client.Client) {
	fmt.Printf("Unread: %d\n", c.Notifications().UnreadCount())
	for _, entry := range c.Notifications().BellView() {
		read := " "
		if !entry.Read {
			read = "*"
		}
		fmt.Printf("%s %s: %s\n", read, entry.Title, entry.Message)
	}
}

func openConversation(c *client.Client, conversationID string) *client.Stream {
	stream, err := c.OpenConversation(conversationID)
	if err != nil {
		fmt.Printf("! %v\n", err)
		return nil
	}

	msgs := stream.Messages()
	for _, m := range msgs {
		printMessage(c, m)
	}

	// Tail the stream for new entries
	go func(seen int) {
		for c.ActiveStream() == stream {
			current := stream.Messages()
			for _, m := range current[min(seen, len(current)):] {
				printMessage(c, m)
			}
			seen = len(current)
			time.Sleep(300 * time.Millisecond)
		}
	}(len(msgs))

	fmt.Println("* conversation opened")
	return stream
}

func printMessage(c *client.Client, m models.Message) {
	who := m.SenderName
	if m.SenderID == c.Self().ID {
		who = "you"
	}
	body := m.Content
	if m.MessageType != models.MessageTypeText {
		body = m.MediaURL
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, body)
}

func sendText(c *client.Client, stream *client.Stream, text string) {
	conv, ok := c.Conversations().Get(stream.ConversationID())
	if !ok {
		fmt.Println("! conversation disappeared")
		return
	}
	if _, err := stream.Send(models.SendMessageRequest{
		ReceiverID:  conv.Peer(c.Self().ID),
		Content:     text,
		MessageType: models.MessageTypeText,
	}); err != nil {
		fmt.Printf("! %v\n", err)
	}
}
