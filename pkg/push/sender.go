package push

import (
	"context"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/notifyhub/notifyhub/pkg/registry"
)

// Status classifies the outcome of a single push send.
type Status int

const (
	// StatusSent means the push service accepted the payload.
	StatusSent Status = iota
	// StatusTransient means the send failed but the endpoint may recover.
	// The push transport owns retry/TTL semantics; we do not retry.
	StatusTransient
	// StatusGone means the push service reported the endpoint permanently
	// dead and its subscription should be reclaimed.
	StatusGone
)

// SendResult is the classified outcome of one send attempt.
type SendResult struct {
	Status Status
	Code   int
	Err    error
}

// Sender delivers an opaque payload to a single subscription endpoint.
type Sender interface {
	Send(ctx context.Context, sub registry.Subscription, payload []byte) SendResult
}

// Options tunes how payloads are handed to the push service.
type Options struct {
	// TTL is how long the push service may hold an undelivered payload,
	// in seconds.
	TTL int
	// Urgency is one of "low", "normal", "high".
	Urgency string
}

// WebPushSender sends payloads over the Web Push protocol with VAPID
// authentication.
type WebPushSender struct {
	keys       VAPIDKeys
	subscriber string
	opts       Options
}

// NewWebPushSender creates a sender signing with the given VAPID keys.
// subscriber is the contact address advertised to push services.
func NewWebPushSender(keys VAPIDKeys, subscriber string, opts Options) *WebPushSender {
	if opts.TTL == 0 {
		opts.TTL = 86400
	}
	return &WebPushSender{keys: keys, subscriber: subscriber, opts: opts}
}

// Send delivers payload to sub's endpoint and classifies the response.
// HTTP 404 and 410 both mean the endpoint is permanently gone; anything else
// that fails is transient.
func (s *WebPushSender) Send(ctx context.Context, sub registry.Subscription, payload []byte) SendResult {
	webpushSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys["p256dh"],
			Auth:   sub.Keys["auth"],
		},
	}

	options := &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
		TTL:             s.opts.TTL,
	}
	switch s.opts.Urgency {
	case "low":
		options.Urgency = webpush.UrgencyLow
	case "high":
		options.Urgency = webpush.UrgencyHigh
	default:
		options.Urgency = webpush.UrgencyNormal
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, webpushSub, options)
	if err != nil {
		return SendResult{Status: StatusTransient, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Warning: failed to close push response body: %v", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return SendResult{Status: StatusGone, Code: resp.StatusCode}
	case resp.StatusCode >= 400:
		return SendResult{Status: StatusTransient, Code: resp.StatusCode}
	default:
		return SendResult{Status: StatusSent, Code: resp.StatusCode}
	}
}
