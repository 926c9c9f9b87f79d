package notify

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Sender delivers one push notification to one device token.
type Sender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) (messageID string, err error)
}

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client    *messaging.Client
	ChannelID string
}

func NewFCMSender(ctx context.Context, credentialsFile, channelID string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return &FCMSender{client: client, ChannelID: channelID}, nil
}

func (s *FCMSender) Send(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	msg := &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
		Android: &messaging.AndroidConfig{
			Priority:     "high",
			Notification: &messaging.AndroidNotification{ChannelID: s.ChannelID},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	}
	return s.client.Send(ctx, msg)
}
