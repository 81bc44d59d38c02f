package domain

import (
	"context"
	"time"
)

// Kind routes a notification on the receiving client.
type Kind string

const (
	KindCurrentWeather Kind = "current_weather"
	KindForecast       Kind = "forecast"
	KindWeatherAlert   Kind = "weather_alert"
	KindError          Kind = "error"
)

// Icons used when the provider supplies none.
const (
	DefaultWeatherIcon = "/icons/weather.png"
	AlertIcon          = "/icons/alert.png"
	ErrorIcon          = "/icons/error.png"
)

// Payload is the JSON document pushed to a subscriber.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Icon  string      `json:"icon"`
	Data  PayloadData `json:"data"`
}

// PayloadData is read by the client to route the notification.
type PayloadData struct {
	Kind     Kind   `json:"kind"`
	Location string `json:"location"`
	Time     string `json:"time,omitempty"`
	Event    string `json:"event,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// DeliveryResult is the outcome of one send.
type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	PermanentlyInvalid
	TransientFailure
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case PermanentlyInvalid:
		return "permanently_invalid"
	case TransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// DeliveryChannel pushes a payload to a subscription's endpoint. The error
// describes the failure when the result is not Delivered.
type DeliveryChannel interface {
	Send(ctx context.Context, sub Subscription, payload Payload) (DeliveryResult, error)
}

// DeliveryOutcome records one attempted send.
type DeliveryOutcome struct {
	CycleID     string    `json:"cycle_id"`
	EndpointKey string    `json:"endpoint_key"`
	Location    string    `json:"location"`
	Kind        Kind      `json:"kind"`
	Result      string    `json:"result"`
	At          time.Time `json:"at"`
}
