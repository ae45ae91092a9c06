package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/queue"
)

func reservationEvent(typ string, r *model.Reservation, sess *model.WorkshopSession) queue.ReservationEvent {
	ev := queue.ReservationEvent{
		ID:            uuid.NewString(),
		Type:          typ,
		ReservationID: r.ID,
		SessionID:     r.SessionID,
		Quantity:      r.Quantity,
		HolderName:    r.Holder.Name,
		HolderEmail:   r.Holder.Email,
		HolderPhone:   r.Holder.Phone,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if sess != nil {
		ev.SessionStartsAt = sess.StartsAt.UTC().Format(time.RFC3339)
	}
	if r.WaitlistPosition != nil {
		ev.WaitlistPosition = *r.WaitlistPosition
	}
	if r.Holder.UserID != nil {
		ev.HolderUserID = *r.Holder.UserID
	}
	return ev
}

// publishReservationEvents sends events after commit.  Failures are logged;
// the committed state stands.
func publishReservationEvents(ctx context.Context, pub EventPublisher, logger *zap.Logger, events []queue.ReservationEvent) {
	if pub == nil {
		return
	}
	for _, ev := range events {
		if err := pub.PublishReservationEvent(ctx, ev); err != nil {
			logger.Warn("publish reservation event",
				zap.String("type", ev.Type),
				zap.Uint64("reservation_id", ev.ReservationID),
				zap.Error(err))
		}
	}
}
