package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/registration"
)

const maxBodyBytes = 64 << 10

type handler struct {
	reg            Registrar
	vapidPublicKey string
	logger         *slog.Logger
}

// subscriptionView is the API shape of a subscription. Transport keys are
// never echoed back.
type subscriptionView struct {
	Endpoint             string     `json:"endpoint"`
	Location             string     `json:"location"`
	OwnerID              string     `json:"owner_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	LastNotified         *time.Time `json:"last_notified,omitempty"`
	NextNotificationTime time.Time  `json:"next_notification_time"`
}

func newSubscriptionView(s domain.Subscription) subscriptionView {
	return subscriptionView{
		Endpoint:             s.Endpoint,
		Location:             s.Location.String(),
		OwnerID:              s.OwnerID,
		CreatedAt:            s.CreatedAt,
		LastNotified:         s.LastNotified,
		NextNotificationTime: s.NextNotificationTime,
	}
}

// ownerListingView is a subscription as listed by owner. The endpoint URL is
// the only credential needed to delete or re-register a subscription, so it
// is replaced by its key.
type ownerListingView struct {
	EndpointKey          string     `json:"endpoint_key"`
	Location             string     `json:"location"`
	CreatedAt            time.Time  `json:"created_at"`
	LastNotified         *time.Time `json:"last_notified,omitempty"`
	NextNotificationTime time.Time  `json:"next_notification_time"`
}

func newOwnerListingView(s domain.Subscription) ownerListingView {
	return ownerListingView{
		EndpointKey:          s.Key(),
		Location:             s.Location.String(),
		CreatedAt:            s.CreatedAt,
		LastNotified:         s.LastNotified,
		NextNotificationTime: s.NextNotificationTime,
	}
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registration.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sub, err := h.reg.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, newSubscriptionView(sub))
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	var req registration.EndpointRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	removed, err := h.reg.Delete(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	var req registration.EndpointRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.reg.Check(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *handler) listByOwner(w http.ResponseWriter, r *http.Request) {
	subs, err := h.reg.ListByOwner(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]ownerListingView, 0, len(subs))
	for _, s := range subs {
		views = append(views, newOwnerListingView(s))
	}
	writeData(w, http.StatusOK, views)
}

func (h *handler) vapidKey(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}

// decodeBody reads a single JSON object from the request body.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", errMalformedBody)
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}
