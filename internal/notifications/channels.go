package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"studioflow/production-portal/production-portal-backend/internal/notifications/websocket"
)

// Channel delivers a message over one medium. Channels decide for
// themselves whether a message applies to them and return nil otherwise.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message, contact *Contact) error
}

// InAppChannel stores the message for the notification inbox.
type InAppChannel struct {
	store Store
}

func NewInAppChannel(store Store) *InAppChannel {
	return &InAppChannel{store: store}
}

func (c *InAppChannel) Name() string { return "in_app" }

func (c *InAppChannel) Deliver(ctx context.Context, msg Message, _ *Contact) error {
	n := &Notification{
		RecipientID: msg.RecipientID,
		Type:        msg.Type,
		Title:       msg.Title,
		Message:     msg.Body,
		CreatedAt:   msg.CreatedAt,
	}
	if msg.RelatedID != uuid.Nil {
		related := msg.RelatedID
		n.RelatedID = &related
	}
	data, err := json.Marshal(map[string]interface{}{"type": msg.Type, "related_id": msg.RelatedID})
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	n.Data = datatypes.JSON(data)
	return c.store.Save(ctx, n)
}

// WebSocketChannel pushes the message to the user's open sockets.
type WebSocketChannel struct {
	manager *websocket.Manager
}

func NewWebSocketChannel(manager *websocket.Manager) *WebSocketChannel {
	return &WebSocketChannel{manager: manager}
}

func (c *WebSocketChannel) Name() string { return "websocket" }

func (c *WebSocketChannel) Deliver(ctx context.Context, msg Message, _ *Contact) error {
	_, err := c.manager.SendToUser(msg.RecipientID, websocket.Message{
		Type:      "notification",
		Data:      msg,
		Timestamp: msg.CreatedAt,
	})
	if errors.Is(err, websocket.ErrNotConnected) {
		return nil
	}
	return err
}

// SESAPI is the part of the SES v2 client the email channel uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailChannel mails urgent messages to users with an email contact.
type EmailChannel struct {
	client SESAPI
	from   string
}

func NewEmailChannel(client SESAPI, from string) *EmailChannel {
	return &EmailChannel{client: client, from: from}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, msg Message, contact *Contact) error {
	if contact == nil || contact.Email == "" || !contact.EmailEnabled || !msg.Type.IsUrgent() {
		return nil
	}
	_, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{contact.Email}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Title)},
				Body:    &sestypes.Body{Text: &sestypes.Content{Data: aws.String(msg.Body)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SNSAPI is the part of the SNS client the push channel uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// PushChannel publishes urgent messages to the user's mobile endpoint.
type PushChannel struct {
	client SNSAPI
}

func NewPushChannel(client SNSAPI) *PushChannel {
	return &PushChannel{client: client}
}

func (c *PushChannel) Name() string { return "push" }

func (c *PushChannel) Deliver(ctx context.Context, msg Message, contact *Contact) error {
	if contact == nil || contact.PushEndpoint == "" || !contact.PushEnabled || !msg.Type.IsUrgent() {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"title":      msg.Title,
		"body":       msg.Body,
		"type":       string(msg.Type),
		"related_id": msg.RelatedID.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}
	_, err = c.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(contact.PushEndpoint),
		Message:   aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("failed to publish push: %w", err)
	}
	return nil
}
