package storage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ltmoamin/RentalCar/internal/auth"
	"github.com/ltmoamin/RentalCar/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketTokens        = []byte("tokens")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketNotifications = []byte("notifications")
	bucketPushSubs      = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketUsers,
			bucketTokens,
			bucketConversations,
			bucketMessages,
			bucketNotifications,
			bucketPushSubs,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			Email:        credentials.Email,
			Name:         credentials.Name,
			AvatarURL:    credentials.AvatarURL,
			Role:         string(credentials.Role),
			Status:       string(credentials.Status),
			PasswordHash: credentials.PasswordHash,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns active user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if models.UserStatus(dbUser.Status) != models.UserStatusActive {
				return nil
			}
			credentials = append(credentials, auth.UserCredentials{
				User:         userFromDB(dbUser),
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

func userFromDB(u DBUser) models.User {
	return models.User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Role:      models.Role(u.Role),
		Status:    models.UserStatus(u.Status),
	}
}

// GetUser returns a single user by ID.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = userFromDB(dbUser)
		return nil
	})
	return user, err
}

// ListUsers returns all active users.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if models.UserStatus(dbUser.Status) == models.UserStatusActive {
				users = append(users, userFromDB(dbUser))
			}
			return nil
		})
	})
	return users, err
}

func (s *BboltStorage) UpsertToken(tokenHash string, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			UserID: userID,
			Token:  tokenHash,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

func (s *BboltStorage) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.Token] = dbToken.UserID
			return nil
		})
	})
	return tokens, err
}

// UpsertConversation saves the conversation record.
func (s *BboltStorage) UpsertConversation(conv DBConversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := conv.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConversations).Put(conv.Key(), data)
	})
}

func (s *BboltStorage) GetConversation(id string) (DBConversation, error) {
	var conv DBConversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		return conv.UnmarshalBinary(data)
	})
	return conv, err
}

// FindConversation returns the conversation between the two identities,
// or ErrNotFound.
func (s *BboltStorage) FindConversation(userID, adminID string) (DBConversation, error) {
	var found DBConversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		var match bool
		err := tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var conv DBConversation
			if err := conv.UnmarshalBinary(v); err != nil {
				return err
			}
			if conv.UserID == userID && conv.AdminID == adminID {
				found = conv
				match = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !match {
			return models.ErrNotFound
		}
		return nil
	})
	return found, err
}

// ListConversations returns every conversation the given user takes part in.
func (s *BboltStorage) ListConversations(participantID string) ([]DBConversation, error) {
	var conversations []DBConversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var conv DBConversation
			if err := conv.UnmarshalBinary(v); err != nil {
				return err
			}
			if conv.UserID == participantID || conv.AdminID == participantID {
				conversations = append(conversations, conv)
			}
			return nil
		})
	})
	return conversations, err
}

// DeleteConversation removes the conversation and its message history.
func (s *BboltStorage) DeleteConversation(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketConversations).Delete([]byte(id)); err != nil {
			return err
		}
		msgBucket := tx.Bucket(bucketMessages)
		if msgBucket.Bucket([]byte(id)) != nil {
			return msgBucket.DeleteBucket([]byte(id))
		}
		return nil
	})
}

// AppendMessage assigns the message a per-conversation sequence number
// and persists it.
func (s *BboltStorage) AppendMessage(msg *DBMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return err
		}
		msg.Seq = seq

		data, err := msg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return convBucket.Put(msg.Key(), data)
	})
}

// ListMessagesPage returns one page of messages, newest first, and the
// total message count for the conversation.
func (s *BboltStorage) ListMessagesPage(conversationID string, page, size int) ([]DBMessage, int, error) {
	var messages []DBMessage
	var total int
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil
		}
		total = convBucket.Stats().KeyN

		c := convBucket.Cursor()
		skip := page * size
		for k, v := c.Last(); k != nil && len(messages) < size; k, v = c.Prev() {
			if skip > 0 {
				skip--
				continue
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg)
		}
		return nil
	})
	return messages, total, err
}

// MarkMessagesRead flips the read flag on every unread message in the
// conversation addressed to readerID. Returns the number of messages
// updated.
func (s *BboltStorage) MarkMessagesRead(conversationID, readerID string, at int64) (int, error) {
	var updated int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil
		}

		c := convBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.Read || dbMsg.ReceiverID != readerID {
				continue
			}
			dbMsg.Read = true
			dbMsg.ReadAt = at
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := convBucket.Put(bytes.Clone(k), data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// AppendNotification assigns the notification a per-user sequence
// number and persists it.
func (s *BboltStorage) AppendNotification(n *DBNotification) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(n.UserID))
		if err != nil {
			return fmt.Errorf("failed to create notification bucket: %w", err)
		}

		seq, err := userBucket.NextSequence()
		if err != nil {
			return err
		}
		n.Seq = seq

		data, err := n.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(n.Key(), data)
	})
}

// ListNotifications returns the user's notifications, newest first.
func (s *BboltStorage) ListNotifications(userID string) ([]DBNotification, error) {
	var notifications []DBNotification
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		c := userBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var n DBNotification
			if err := n.UnmarshalBinary(v); err != nil {
				return err
			}
			notifications = append(notifications, n)
		}
		return nil
	})
	return notifications, err
}

func (s *BboltStorage) CountUnreadNotifications(userID string) (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var n DBNotification
			if err := n.UnmarshalBinary(v); err != nil {
				return err
			}
			if !n.Read {
				count++
			}
			return nil
		})
	})
	return count, err
}

// MarkNotificationRead marks a single notification read.
func (s *BboltStorage) MarkNotificationRead(userID, id string) error {
	return s.markNotifications(userID, func(n *DBNotification) bool {
		return n.ID == id
	}, nil)
}

// MarkAllNotificationsRead marks every notification of the user read.
func (s *BboltStorage) MarkAllNotificationsRead(userID string) error {
	return s.markNotifications(userID, func(n *DBNotification) bool {
		return true
	}, nil)
}

// MarkChatNotificationsRead marks unread chat notifications whose title
// contains the given fragment (the "New Message from {sender}" form).
func (s *BboltStorage) MarkChatNotificationsRead(userID, titleFragment string) (int, error) {
	var updated int
	err := s.markNotifications(userID, func(n *DBNotification) bool {
		return models.NotificationType(n.Type).IsChat() && strings.Contains(n.Title, titleFragment)
	}, &updated)
	return updated, err
}

func (s *BboltStorage) markNotifications(userID string, match func(*DBNotification) bool, updated *int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		c := userBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var n DBNotification
			if err := n.UnmarshalBinary(v); err != nil {
				return err
			}
			if n.Read || !match(&n) {
				continue
			}
			n.Read = true
			data, err := n.MarshalBinary()
			if err != nil {
				return err
			}
			if err := userBucket.Put(bytes.Clone(k), data); err != nil {
				return err
			}
			if updated != nil {
				*updated++
			}
		}
		return nil
	})
}

func (s *BboltStorage) UpsertPushSubscription(sub DBPushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return err
		}
		data, err := sub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(sub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]DBPushSubscription, error) {
	var subs []DBPushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var sub DBPushSubscription
			if err := sub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	return subs, err
}

// DeletePushSubscription drops a subscription, e.g. after the push
// service reports it gone.
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}
