package service

// This file implements session scheduling: booking under the session lock,
// capacity changes and the reservation reads the handlers need.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/model"
	"github.com/iliyamo/studio-reservations/internal/queue"
)

// Scheduler owns workshop session capacity.  Every read-modify-write of a
// session's bookings happens inside one unit of work holding the session row
// lock, so two bookings can never both take the last seat.
type Scheduler struct {
	store    Store
	gifts    *GiftCardLedger
	events   EventPublisher
	logger   *zap.Logger
	currency string
}

// NewScheduler wires the scheduler.  events may be nil.
func NewScheduler(store Store, gifts *GiftCardLedger, events EventPublisher, currency string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, gifts: gifts, events: events, logger: logger, currency: strings.ToUpper(currency)}
}

// SessionRequest describes a new workshop session.
type SessionRequest struct {
	WorkshopID   uint64
	StartsAt     time.Time
	Capacity     uint32
	PricePerSeat decimal.Decimal
	Currency     string
}

// CreateSession stores a new session.
func (s *Scheduler) CreateSession(ctx context.Context, req SessionRequest) (*model.WorkshopSession, error) {
	if req.WorkshopID == 0 {
		return nil, fmt.Errorf("%w: workshop_id is required", ErrInvalidInput)
	}
	if req.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: starts_at is required", ErrInvalidInput)
	}
	if req.Capacity == 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
	}
	if req.PricePerSeat.IsNegative() {
		return nil, fmt.Errorf("%w: price_per_seat must not be negative", ErrInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	sess := &model.WorkshopSession{
		WorkshopID:   req.WorkshopID,
		StartsAt:     req.StartsAt.UTC(),
		Capacity:     req.Capacity,
		PricePerSeat: req.PricePerSeat,
		Currency:     currency,
	}
	if err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateSession(ctx, sess)
	}); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// BookingRequest asks for seats in a session.
type BookingRequest struct {
	Quantity uint32
	Holder   model.Holder
	// DeferCapture books the seats as pending until payment is captured.
	DeferCapture bool
	// RejectWhenFull returns ErrSessionFull instead of waitlisting.
	RejectWhenFull bool
	PaymentRef     *string
	GiftCardCode   *string
	GiftCardAmount decimal.Decimal
}

func (r BookingRequest) validate() error {
	if r.Quantity == 0 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	h := r.Holder
	if (h.UserID == nil || strings.TrimSpace(*h.UserID) == "") &&
		(strings.TrimSpace(h.Name) == "" || (strings.TrimSpace(h.Email) == "" && strings.TrimSpace(h.Phone) == "")) {
		return fmt.Errorf("%w: holder needs a user id or a guest name with email or phone", ErrInvalidInput)
	}
	if r.GiftCardCode != nil && !r.GiftCardAmount.IsPositive() {
		return fmt.Errorf("%w: gift_card_amount must be positive", ErrInvalidInput)
	}
	if r.GiftCardCode == nil && !r.GiftCardAmount.IsZero() {
		return fmt.Errorf("%w: gift_card_amount needs gift_card_code", ErrInvalidInput)
	}
	return nil
}

// BookSession books req.Quantity seats.  A request that fits is confirmed
// (pending when capture is deferred); one that does not is waitlisted as a
// whole, never partly fulfilled.
func (s *Scheduler) BookSession(ctx context.Context, sessionID uint64, req BookingRequest) (*model.Reservation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		res  *model.Reservation
		sess *model.WorkshopSession
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sess, err = tx.GetSession(ctx, sessionID, true)
		if err != nil {
			return wrapNotFound(err, "session")
		}
		existing, err := tx.ListReservationsBySession(ctx, sessionID)
		if err != nil {
			return err
		}

		res = &model.Reservation{
			SessionID:      sessionID,
			Holder:         req.Holder,
			Quantity:       req.Quantity,
			PricePerSeat:   sess.PricePerSeat,
			Currency:       sess.Currency,
			PaymentStatus:  model.PaymentUnpaid,
			PaymentRef:     req.PaymentRef,
			GiftCardAmount: decimal.Zero,
		}
		if req.GiftCardCode != nil {
			if req.GiftCardAmount.GreaterThan(res.Total()) {
				return fmt.Errorf("%w: gift_card_amount exceeds the reservation total", ErrInvalidInput)
			}
			code := normalizeCode(*req.GiftCardCode)
			res.GiftCardCode = &code
			res.GiftCardAmount = req.GiftCardAmount
		}

		booked := model.BookedSeats(existing)
		switch {
		case booked+req.Quantity <= sess.Capacity && req.DeferCapture:
			res.Status = model.ReservationPending
		case booked+req.Quantity <= sess.Capacity:
			res.Status = model.ReservationConfirmed
		case req.RejectWhenFull:
			return fmt.Errorf("%w: %d of %d seats booked, %d requested",
				ErrSessionFull, booked, sess.Capacity, req.Quantity)
		default:
			pos := uint32(waitlistLength(existing) + 1)
			res.Status = model.ReservationWaitlist
			res.WaitlistPosition = &pos
		}
		if !req.DeferCapture && (req.PaymentRef != nil || res.GiftCardAmount.Equal(res.Total())) {
			res.PaymentStatus = model.PaymentPaid
		}

		if err := tx.CreateReservation(ctx, res); err != nil {
			return err
		}
		if res.GiftCardCode != nil {
			ref := model.ReservationRef(res.ID)
			if _, err := s.gifts.redeemTx(ctx, tx, *res.GiftCardCode, res.GiftCardAmount, &ref, model.RedeemKey(ref)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	typ := queue.ReservationConfirmed
	if res.Status == model.ReservationWaitlist {
		typ = queue.ReservationWaitlisted
	}
	s.logger.Info("session booked",
		zap.Uint64("session_id", sessionID),
		zap.Uint64("reservation_id", res.ID),
		zap.Uint32("quantity", res.Quantity),
		zap.String("status", string(res.Status)))
	if res.Status != model.ReservationPending {
		publishReservationEvents(ctx, s.events, s.logger, []queue.ReservationEvent{reservationEvent(typ, res, sess)})
	}
	return res, nil
}

// UpdateCapacity changes the number of seats.  Capacity cannot drop below
// the seats already held; raising it promotes from the waitlist.
func (s *Scheduler) UpdateCapacity(ctx context.Context, sessionID uint64, capacity uint32) (*model.WorkshopSession, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
	}
	var (
		sess     *model.WorkshopSession
		promoted []model.Reservation
	)
	err := withVersionRetry(func() error {
		promoted = nil
		return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			sess, err = tx.GetSession(ctx, sessionID, true)
			if err != nil {
				return wrapNotFound(err, "session")
			}
			rs, err := tx.ListReservationsBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			if booked := model.BookedSeats(rs); capacity < booked {
				return fmt.Errorf("%w: %d seats are already booked", ErrInvalidInput, booked)
			}
			sess.Capacity = capacity
			if err := tx.UpdateSession(ctx, sess); err != nil {
				return err
			}
			promoted, err = applyRebalance(ctx, tx, sess.Capacity, rs)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.publishPromotions(ctx, sess, promoted)
	return sess, nil
}

// applyRebalance runs rebalance over rs and writes every changed
// reservation, returning the promoted ones.
func applyRebalance(ctx context.Context, tx Tx, capacity uint32, rs []model.Reservation) ([]model.Reservation, error) {
	promotedIdx, changed := rebalance(capacity, rs)
	for _, i := range changed {
		if err := tx.UpdateReservation(ctx, &rs[i]); err != nil {
			return nil, err
		}
	}
	out := make([]model.Reservation, 0, len(promotedIdx))
	for _, i := range promotedIdx {
		out = append(out, rs[i])
	}
	return out, nil
}

func (s *Scheduler) publishPromotions(ctx context.Context, sess *model.WorkshopSession, promoted []model.Reservation) {
	if len(promoted) == 0 {
		return
	}
	events := make([]queue.ReservationEvent, 0, len(promoted))
	for i := range promoted {
		s.logger.Info("reservation promoted",
			zap.Uint64("session_id", sess.ID),
			zap.Uint64("reservation_id", promoted[i].ID))
		events = append(events, reservationEvent(queue.ReservationPromoted, &promoted[i], sess))
	}
	publishReservationEvents(ctx, s.events, s.logger, events)
}

// Availability summarizes a session's seats.
type Availability struct {
	Session  *model.WorkshopSession `json:"session"`
	Booked   uint32                 `json:"booked"`
	Free     uint32                 `json:"free"`
	Waitlist int                    `json:"waitlist"`
}

// Availability returns the current seat counts of a session.
func (s *Scheduler) Availability(ctx context.Context, sessionID uint64) (*Availability, error) {
	var out *Availability
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.GetSession(ctx, sessionID, false)
		if err != nil {
			return wrapNotFound(err, "session")
		}
		rs, err := tx.ListReservationsBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		a := &Availability{Session: sess, Booked: model.BookedSeats(rs), Waitlist: waitlistLength(rs)}
		if sess.Capacity > a.Booked {
			a.Free = sess.Capacity - a.Booked
		}
		out = a
		return nil
	})
	return out, err
}

// ListReservations returns every reservation of the session ordered by id.
func (s *Scheduler) ListReservations(ctx context.Context, sessionID uint64) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetSession(ctx, sessionID, false); err != nil {
			return wrapNotFound(err, "session")
		}
		rs, err := tx.ListReservationsBySession(ctx, sessionID)
		out = rs
		return err
	})
	return out, err
}

// GetReservation returns the reservation with the given id.
func (s *Scheduler) GetReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.GetReservation(ctx, id, false)
		if err != nil {
			return wrapNotFound(err, "reservation")
		}
		out = r
		return nil
	})
	return out, err
}
