// Package webpush delivers notification payloads through the Web Push
// protocol with VAPID authentication.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/couchcryptid/weather-push-notifier/internal/domain"
)

// Config holds the VAPID identity and delivery options.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string // "mailto:" address or https URL identifying the sender
	TTL             time.Duration
	Timeout         time.Duration
}

// Channel implements domain.DeliveryChannel.
type Channel struct {
	cfg        Config
	httpClient webpush.HTTPClient
	logger     *slog.Logger
}

// NewChannel creates a push channel.
func NewChannel(cfg Config, logger *slog.Logger) *Channel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Channel{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Send encrypts payload for sub and posts it to the push service. A 404 or
// 410 answer means the browser dropped the subscription.
func (c *Channel) Send(ctx context.Context, sub domain.Subscription, payload domain.Payload) (domain.DeliveryResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.TransientFailure, fmt.Errorf("%w: marshal payload: %v", domain.ErrTransientDelivery, err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      c.httpClient,
		Subscriber:      subscriber(c.cfg.Subject),
		TTL:             int(c.cfg.TTL.Seconds()),
		Urgency:         urgency(payload.Data.Kind),
		VAPIDPublicKey:  c.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: c.cfg.VAPIDPrivateKey,
	})
	if err != nil {
		return domain.TransientFailure, fmt.Errorf("%w: %v", domain.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.Delivered, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return domain.PermanentlyInvalid, fmt.Errorf("%w: status %d", domain.ErrPermanentEndpoint, resp.StatusCode)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("push service rejected notification",
			"endpoint_key", sub.Key(),
			"status", resp.StatusCode,
			"body", string(detail),
		)
		return domain.TransientFailure, fmt.Errorf("%w: status %d", domain.ErrTransientDelivery, resp.StatusCode)
	}
}

// subscriber strips "mailto:" because webpush-go adds it back for plain
// addresses.
func subscriber(subject string) string {
	return strings.TrimPrefix(subject, "mailto:")
}

func urgency(kind domain.Kind) webpush.Urgency {
	if kind == domain.KindWeatherAlert {
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}
