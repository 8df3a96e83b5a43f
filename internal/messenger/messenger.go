// Package messenger is a typed façade over the messaging platform's send API
// plus the administrator notification sink built on top of it.
package messenger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/remote"
)

// ErrRecipientRequired is returned when a send has no recipient.
var ErrRecipientRequired = errors.New("messenger: recipient is required")

const (
	typeText        = "text"
	typeInteractive = "interactive"
)

type metadata struct {
	SyncTag string `json:"sync_tag,omitempty"`
}

type message struct {
	RecipientID string         `json:"recipient_id"`
	Type        string         `json:"type"`
	Text        string         `json:"text"`
	Buttons     []model.Choice `json:"buttons,omitempty"`
	Metadata    *metadata      `json:"metadata,omitempty"`
}

// Client sends messages through the Messenger API.
type Client struct {
	http *remote.Client
}

// New constructs a Client over an authenticated remote client.
func New(http *remote.Client) *Client {
	return &Client{http: http}
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, recipientID, text, tag string) error {
	return c.send(ctx, message{RecipientID: recipientID, Type: typeText, Text: text}, tag)
}

// SendInteractive delivers a message with buttons; each button's token is
// returned in the callback_data of a later feedback event.
func (c *Client) SendInteractive(ctx context.Context, recipientID, text string, choices []model.Choice, tag string) error {
	return c.send(ctx, message{RecipientID: recipientID, Type: typeInteractive, Text: text, Buttons: choices}, tag)
}

func (c *Client) send(ctx context.Context, msg message, tag string) error {
	if msg.RecipientID == "" {
		return ErrRecipientRequired
	}
	if tag != "" {
		msg.Metadata = &metadata{SyncTag: tag}
	}
	if err := c.http.Post(ctx, "/messages", msg, nil); err != nil {
		return fmt.Errorf("send %s message: %w", msg.Type, err)
	}
	return nil
}
