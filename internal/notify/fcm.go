package notify

import (
	"context"
	"fmt"

	"krushilink/internal/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// MessageSender is the part of *messaging.Client the FCM channel needs.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// NewFCMClient creates a messaging client from a service account file.
func NewFCMClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return client, nil
}

// FCM pushes to the recipient's mobile app.
type FCM struct {
	client MessageSender
}

func NewFCM(client MessageSender) *FCM {
	return &FCM{client: client}
}

func (f *FCM) Channel() string { return "fcm" }

func (f *FCM) Push(ctx context.Context, recipient *models.User, n *models.Notification) error {
	if recipient.FCMToken == "" {
		return ErrNoAddress
	}
	if _, err := f.client.Send(ctx, fcmMessage(recipient, n)); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

func fcmMessage(recipient *models.User, n *models.Notification) *messaging.Message {
	return &messaging.Message{
		Token: recipient.FCMToken,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: map[string]string{
			"notification_id": n.ID,
			"category":        string(n.Category),
			"booking_id":      n.RelatedID,
			"role":            string(recipient.Role),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: string(n.Category),
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}
