// Package domain models push-notification subscriptions and the weather data
// delivered to them.
//
// # Subscriptions
//
// A subscription is identified by its push endpoint URL. Re-registering the
// same endpoint replaces the stored record instead of adding a second one.
// The transport keys (p256dh, auth) are carried opaquely and only read by the
// Web Push adapter.
//
// Location format:
//
//	"<city>,<region>,<country>"  →  e.g. "Austin,Texas,United States"
//	Whitespace around commas is stripped before persisting. The region may be
//	empty ("Paris,,France") but the string always splits into three parts.
//	The first segment is the display name used in notification titles.
//
// # Notification Schedule
//
// Subscribers are notified at even-numbered local hours in the timezone the
// weather provider reports for their location. The timezone is never stored;
// it is resolved again on every cycle. After a successful cycle at local hour h
// the next notification time is the top of hour h + (2 - h%2), so 13:xx maps
// to 14:00 and 14:xx maps to 16:00. See [NextNotificationTime].
//
// # Hourly Window
//
// Provider hourly entries are timestamped in UTC. Each entry is projected into
// the subscriber's timezone and the entries for the current and following
// local hour are selected. A missing entry is an [ErrDataGap]. See [SelectWindow].
//
// # Payload Kinds
//
//	current_weather  conditions for the current local hour
//	forecast         conditions for the next local hour
//	weather_alert    one per active alert, in provider order
//	error            fallback sent when the cycle could not build the above
package domain
