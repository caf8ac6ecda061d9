package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/domain/booking"
	"github.com/akorchagin/eventdesk/internal/domain/event"
	"github.com/akorchagin/eventdesk/internal/domain/task"
	"github.com/akorchagin/eventdesk/internal/domain/waitlist"
	"github.com/akorchagin/eventdesk/internal/http/handlers"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

// fakeTx satisfies pgx.Tx for handlers that only Begin/Commit/Rollback;
// any other method hits the nil embedded interface and panics loudly.

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeBookingStore struct {
	beginTxFn        func(ctx context.Context) (pgx.Tx, error)
	createTxFn       func(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (booking.Booking, error)
	insertTxFn       func(ctx context.Context, tx pgx.Tx, b booking.Booking) error
	availabilityTxFn func(ctx context.Context, tx pgx.Tx, eventID string) (event.Availability, error)
	getFn            func(ctx context.Context, id string) (booking.Booking, error)
	listByEventFn    func(ctx context.Context, eventID string, f booking.ListFilter) ([]booking.Booking, int, error)
	updateFn         func(ctx context.Context, id string, req booking.UpdateBookingRequest) (booking.Booking, error)
	deleteTxFn       func(ctx context.Context, tx pgx.Tx, id string) (booking.Booking, error)
	togglePaidFn     func(ctx context.Context, id string) (booking.Booking, error)
	toggleAttendedFn func(ctx context.Context, id string) (booking.Booking, error)
}

func (f *fakeBookingStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if f.beginTxFn != nil {
		return f.beginTxFn(ctx)
	}
	return fakeTx{}, nil
}

func (f *fakeBookingStore) CreateTx(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (booking.Booking, error) {
	if f.createTxFn != nil {
		return f.createTxFn(ctx, tx, req, holderID, holderEmail)
	}
	return booking.NewFromCreateRequest(req, holderID, holderEmail), nil
}

func (f *fakeBookingStore) InsertTx(ctx context.Context, tx pgx.Tx, b booking.Booking) error {
	if f.insertTxFn != nil {
		return f.insertTxFn(ctx, tx, b)
	}
	return nil
}

func (f *fakeBookingStore) AvailabilityTx(ctx context.Context, tx pgx.Tx, eventID string) (event.Availability, error) {
	if f.availabilityTxFn != nil {
		return f.availabilityTxFn(ctx, tx, eventID)
	}
	return event.Availability{}, nil
}

func (f *fakeBookingStore) GetByID(ctx context.Context, id string) (booking.Booking, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return booking.Booking{}, nil
}

func (f *fakeBookingStore) ListByEvent(ctx context.Context, eventID string, filter booking.ListFilter) ([]booking.Booking, int, error) {
	if f.listByEventFn != nil {
		return f.listByEventFn(ctx, eventID, filter)
	}
	return []booking.Booking{}, 0, nil
}

func (f *fakeBookingStore) Update(ctx context.Context, id string, req booking.UpdateBookingRequest) (booking.Booking, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, req)
	}
	return booking.Booking{}, nil
}

func (f *fakeBookingStore) DeleteTx(ctx context.Context, tx pgx.Tx, id string) (booking.Booking, error) {
	if f.deleteTxFn != nil {
		return f.deleteTxFn(ctx, tx, id)
	}
	return booking.Booking{}, nil
}

func (f *fakeBookingStore) TogglePaid(ctx context.Context, id string) (booking.Booking, error) {
	if f.togglePaidFn != nil {
		return f.togglePaidFn(ctx, id)
	}
	return booking.Booking{}, nil
}

func (f *fakeBookingStore) ToggleAttended(ctx context.Context, id string) (booking.Booking, error) {
	if f.toggleAttendedFn != nil {
		return f.toggleAttendedFn(ctx, id)
	}
	return booking.Booking{}, nil
}

type fakeWaitlistQueue struct {
	appendTxFn      func(ctx context.Context, tx pgx.Tx, eventID, holderID, holderEmail string) (waitlist.Entry, error)
	promoteHeadTxFn func(ctx context.Context, tx pgx.Tx, eventID string) (waitlist.Entry, error)
	listTxFn        func(ctx context.Context, tx pgx.Tx, eventID string) ([]waitlist.Entry, error)
}

func (f *fakeWaitlistQueue) AppendTx(ctx context.Context, tx pgx.Tx, eventID, holderID, holderEmail string) (waitlist.Entry, error) {
	if f.appendTxFn != nil {
		return f.appendTxFn(ctx, tx, eventID, holderID, holderEmail)
	}
	return waitlist.NewEntry(eventID, holderID, holderEmail, 1), nil
}

func (f *fakeWaitlistQueue) PromoteHeadTx(ctx context.Context, tx pgx.Tx, eventID string) (waitlist.Entry, error) {
	if f.promoteHeadTxFn != nil {
		return f.promoteHeadTxFn(ctx, tx, eventID)
	}
	return waitlist.Entry{}, waitlist.ErrEmpty
}

func (f *fakeWaitlistQueue) ListTx(ctx context.Context, tx pgx.Tx, eventID string) ([]waitlist.Entry, error) {
	if f.listTxFn != nil {
		return f.listTxFn(ctx, tx, eventID)
	}
	return nil, nil
}

type fakeTaskEnqueuer struct {
	enqueueTxFn   func(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string, channels []string, availableAt *time.Time) (int, error)
	completeAllFn func(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error
}

func (f *fakeTaskEnqueuer) EnqueueTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string, channels []string, availableAt *time.Time) (int, error) {
	if f.enqueueTxFn != nil {
		return f.enqueueTxFn(ctx, tx, kind, subjectID, channels, availableAt)
	}
	return len(channels), nil
}

func (f *fakeTaskEnqueuer) CompleteAllForSubjectTx(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error {
	if f.completeAllFn != nil {
		return f.completeAllFn(ctx, tx, kind, subjectID)
	}
	return nil
}

type fakePolicySource struct {
	boolFn func(ctx context.Context, key string, def bool) (bool, error)
}

func (f *fakePolicySource) Bool(ctx context.Context, key string, def bool) (bool, error) {
	if f.boolFn != nil {
		return f.boolFn(ctx, key, def)
	}
	return def, nil
}

func testBookingsConfig() config.Config {
	return config.Config{
		TaskChannels:       []string{"telegram", "vk", "max"},
		AutoPromoteDefault: true,
	}
}

func newBookingsHandler(store *fakeBookingStore, queue *fakeWaitlistQueue, tasks *fakeTaskEnqueuer, policy *fakePolicySource) *handlers.BookingsHandler {
	return handlers.NewBookingsHandler(store, queue, tasks, policy, nil, nil, nil, testBookingsConfig())
}

// Create booking tests

func TestCreateBookingHandler(t *testing.T) {
	eventID := newUUID()
	holderID := newUUID()

	tests := []struct {
		name           string
		url            string
		body           string
		withIdentity   bool
		storeSetup     func(*fakeBookingStore)
		queueSetup     func(*fakeWaitlistQueue)
		wantStatusCode int
	}{
		{
			name:         "success",
			url:          "/events/" + eventID + "/bookings",
			body:         `{"groupSize": 2, "groupNames": ["Ann", "Ben"]}`,
			withIdentity: true,
			storeSetup: func(f *fakeBookingStore) {
				f.createTxFn = func(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (booking.Booking, error) {
					if req.EventID != eventID {
						return booking.Booking{}, errors.New("event id not forced from the URL")
					}
					return booking.NewFromCreateRequest(req, holderID, holderEmail), nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name:         "full_event_waitlists",
			url:          "/events/" + eventID + "/bookings",
			body:         `{"groupSize": 1}`,
			withIdentity: true,
			storeSetup: func(f *fakeBookingStore) {
				f.createTxFn = func(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (booking.Booking, error) {
					return booking.Booking{}, booking.ErrCapacityExceeded
				}
			},
			queueSetup: func(f *fakeWaitlistQueue) {
				f.appendTxFn = func(ctx context.Context, tx pgx.Tx, eventID, holderID, holderEmail string) (waitlist.Entry, error) {
					return waitlist.NewEntry(eventID, holderID, holderEmail, 3), nil
				}
			},
			wantStatusCode: http.StatusAccepted,
		},
		{
			name:         "event_not_found",
			url:          "/events/" + eventID + "/bookings",
			body:         `{"groupSize": 1}`,
			withIdentity: true,
			storeSetup: func(f *fakeBookingStore) {
				f.createTxFn = func(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (booking.Booking, error) {
					return booking.Booking{}, event.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "validation_error",
			url:            "/events/" + eventID + "/bookings",
			body:           `{"groupSize": -1}`,
			withIdentity:   true,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "invalid_event_id",
			url:            "/events/not-a-uuid/bookings",
			body:           `{"groupSize": 1}`,
			withIdentity:   true,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "missing_identity",
			url:            "/events/" + eventID + "/bookings",
			body:           `{"groupSize": 1}`,
			withIdentity:   false,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:         "store_error",
			url:          "/events/" + eventID + "/bookings",
			body:         `{"groupSize": 1}`,
			withIdentity: true,
			storeSetup: func(f *fakeBookingStore) {
				f.createTxFn = func(ctx context.Context, tx pgx.Tx, req booking.CreateBookingRequest, holderID, holderEmail string) (booking.Booking, error) {
					return booking.Booking{}, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeBookingStore{}
			queue := &fakeWaitlistQueue{}

			if tt.storeSetup != nil {
				tt.storeSetup(store)
			}
			if tt.queueSetup != nil {
				tt.queueSetup(queue)
			}

			h := newBookingsHandler(store, queue, &fakeTaskEnqueuer{}, &fakePolicySource{})

			var r *gin.Engine
			if tt.withIdentity {
				r = setupRouterAs(http.MethodPost, "/events/:id/bookings", holderID, "user", h.Create)
			} else {
				r = setupRouter(http.MethodPost, "/events/:id/bookings", h.Create)
			}

			req := httptest.NewRequest(http.MethodPost, tt.url, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode == http.StatusAccepted {
				var resp struct {
					Status string         `json:"status"`
					Entry  waitlist.Entry `json:"entry"`
				}
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.Status != "waitlisted" || resp.Entry.Position != 3 {
					t.Fatalf("unexpected waitlist response: %+v", resp)
				}
			}
		})
	}
}

// Get booking tests: ownership and the admin override

func TestGetBookingHandler(t *testing.T) {
	bookingID := newUUID()
	ownerID := newUUID()
	strangerID := newUUID()

	owned := booking.Booking{
		ID:        bookingID,
		EventID:   newUUID(),
		HolderID:  ownerID,
		GroupSize: 1,
		Status:    booking.StatusPending,
	}

	tests := []struct {
		name           string
		callerID       string
		callerRole     string
		storeSetup     func(*fakeBookingStore)
		wantStatusCode int
	}{
		{
			name:       "owner_sees_own",
			callerID:   ownerID,
			callerRole: "user",
			storeSetup: func(f *fakeBookingStore) {
				f.getFn = func(ctx context.Context, id string) (booking.Booking, error) {
					return owned, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:       "stranger_forbidden",
			callerID:   strangerID,
			callerRole: "user",
			storeSetup: func(f *fakeBookingStore) {
				f.getFn = func(ctx context.Context, id string) (booking.Booking, error) {
					return owned, nil
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:       "admin_override",
			callerID:   strangerID,
			callerRole: "admin",
			storeSetup: func(f *fakeBookingStore) {
				f.getFn = func(ctx context.Context, id string) (booking.Booking, error) {
					return owned, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:       "not_found",
			callerID:   ownerID,
			callerRole: "user",
			storeSetup: func(f *fakeBookingStore) {
				f.getFn = func(ctx context.Context, id string) (booking.Booking, error) {
					return booking.Booking{}, booking.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeBookingStore{}

			if tt.storeSetup != nil {
				tt.storeSetup(store)
			}

			h := newBookingsHandler(store, &fakeWaitlistQueue{}, &fakeTaskEnqueuer{}, &fakePolicySource{})

			r := setupRouterAs(http.MethodGet, "/bookings/:bookingId", tt.callerID, tt.callerRole, h.GetByID)

			req := httptest.NewRequest(http.MethodGet, "/bookings/"+bookingID, nil)
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestUpdateBookingHandler(t *testing.T) {
	bookingID := newUUID()
	ownerID := newUUID()
	strangerID := newUUID()

	owned := booking.Booking{
		ID:        bookingID,
		EventID:   newUUID(),
		HolderID:  ownerID,
		GroupSize: 1,
		Status:    booking.StatusPending,
	}

	tests := []struct {
		name           string
		callerID       string
		body           string
		storeSetup     func(*fakeBookingStore)
		wantStatusCode int
	}{
		{
			name:     "owner_updates",
			callerID: ownerID,
			body:     `{"groupSize": 4}`,
			storeSetup: func(f *fakeBookingStore) {
				f.getFn = func(ctx context.Context, id string) (booking.Booking, error) {
					return owned, nil
				}
				f.updateFn = func(ctx context.Context, id string, req booking.UpdateBookingRequest) (booking.Booking, error) {
					b := owned
					b.GroupSize = *req.GroupSize
					return b, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:     "stranger_forbidden",
			callerID: strangerID,
			body:     `{"groupSize": 4}`,
			storeSetup: func(f *fakeBookingStore) {
				f.getFn = func(ctx context.Context, id string) (booking.Booking, error) {
					return owned, nil
				}
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:     "not_found",
			callerID: ownerID,
			body:     `{"groupSize": 4}`,
			storeSetup: func(f *fakeBookingStore) {
				f.getFn = func(ctx context.Context, id string) (booking.Booking, error) {
					return booking.Booking{}, booking.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := &fakeBookingStore{}

			if tt.storeSetup != nil {
				tt.storeSetup(store)
			}

			h := newBookingsHandler(store, &fakeWaitlistQueue{}, &fakeTaskEnqueuer{}, &fakePolicySource{})

			r := setupRouterAs(http.MethodPut, "/bookings/:bookingId", tt.callerID, "user", h.Update)

			req := httptest.NewRequest(http.MethodPut, "/bookings/"+bookingID, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

// Delete booking tests: the two promotion policies

func TestDeleteBookingHandler_AutoPromotes(t *testing.T) {
	bookingID := newUUID()
	eventID := newUUID()

	store := &fakeBookingStore{}
	queue := &fakeWaitlistQueue{}
	tasks := &fakeTaskEnqueuer{}
	policy := &fakePolicySource{
		boolFn: func(ctx context.Context, key string, def bool) (bool, error) {
			return true, nil
		},
	}

	store.deleteTxFn = func(ctx context.Context, tx pgx.Tx, id string) (booking.Booking, error) {
		return booking.Booking{ID: id, EventID: eventID, GroupSize: 2}, nil
	}

	// two seats freed, but only one entry waiting
	seats := 2
	store.availabilityTxFn = func(ctx context.Context, tx pgx.Tx, id string) (event.Availability, error) {
		return event.Availability{EventID: id, Capacity: 10, Occupied: 10 - seats, Available: seats}, nil
	}

	headServed := false
	head := waitlist.NewEntry(eventID, newUUID(), "head@example.com", 1)

	queue.promoteHeadTxFn = func(ctx context.Context, tx pgx.Tx, id string) (waitlist.Entry, error) {
		if headServed {
			return waitlist.Entry{}, waitlist.ErrEmpty
		}
		headServed = true
		return head, nil
	}

	inserted := []booking.Booking{}
	store.insertTxFn = func(ctx context.Context, tx pgx.Tx, b booking.Booking) error {
		inserted = append(inserted, b)
		seats--
		return nil
	}

	retired := []string{}
	tasks.completeAllFn = func(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string) error {
		retired = append(retired, subjectID)
		return nil
	}

	h := newBookingsHandler(store, queue, tasks, policy)
	r := setupRouterAs(http.MethodDelete, "/bookings/:bookingId", newUUID(), "admin", h.Delete)

	req := httptest.NewRequest(http.MethodDelete, "/bookings/"+bookingID, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
	}

	if len(inserted) != 1 {
		t.Fatalf("expected one promoted booking, got %d", len(inserted))
	}

	if inserted[0].HolderID != head.HolderID || inserted[0].GroupSize != 1 {
		t.Fatalf("promoted booking should carry the head holder with one seat, got %+v", inserted[0])
	}

	if len(retired) != 1 || retired[0] != head.ID {
		t.Fatalf("expected the head entry's tasks retired, got %v", retired)
	}
}

func TestDeleteBookingHandler_NotifyFansOut(t *testing.T) {
	bookingID := newUUID()
	eventID := newUUID()

	store := &fakeBookingStore{}
	queue := &fakeWaitlistQueue{}
	tasks := &fakeTaskEnqueuer{}
	policy := &fakePolicySource{
		boolFn: func(ctx context.Context, key string, def bool) (bool, error) {
			return false, nil
		},
	}

	store.deleteTxFn = func(ctx context.Context, tx pgx.Tx, id string) (booking.Booking, error) {
		return booking.Booking{ID: id, EventID: eventID, GroupSize: 1}, nil
	}

	entries := []waitlist.Entry{
		waitlist.NewEntry(eventID, newUUID(), "one@example.com", 1),
		waitlist.NewEntry(eventID, newUUID(), "two@example.com", 2),
	}

	queue.listTxFn = func(ctx context.Context, tx pgx.Tx, id string) ([]waitlist.Entry, error) {
		return entries, nil
	}

	promoted := 0
	queue.promoteHeadTxFn = func(ctx context.Context, tx pgx.Tx, id string) (waitlist.Entry, error) {
		promoted++
		return waitlist.Entry{}, waitlist.ErrEmpty
	}

	type enqueueCall struct {
		subjectID string
		channels  []string
	}

	calls := []enqueueCall{}
	tasks.enqueueTxFn = func(ctx context.Context, tx pgx.Tx, kind task.Kind, subjectID string, channels []string, availableAt *time.Time) (int, error) {
		if kind != task.KindWaitlistNotify {
			return 0, errors.New("unexpected task kind")
		}
		calls = append(calls, enqueueCall{subjectID: subjectID, channels: channels})
		return len(channels), nil
	}

	h := newBookingsHandler(store, queue, tasks, policy)
	r := setupRouterAs(http.MethodDelete, "/bookings/:bookingId", newUUID(), "admin", h.Delete)

	req := httptest.NewRequest(http.MethodDelete, "/bookings/"+bookingID, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
	}

	if promoted != 0 {
		t.Fatalf("notify mode must not consume the queue, got %d promotions", promoted)
	}

	if len(calls) != len(entries) {
		t.Fatalf("expected one fan-out per entry, got %d calls", len(calls))
	}

	for i, c := range calls {
		if c.subjectID != entries[i].ID {
			t.Fatalf("call %d addressed %s, want %s", i, c.subjectID, entries[i].ID)
		}
		if len(c.channels) != 3 {
			t.Fatalf("call %d carried %d channels, want 3", i, len(c.channels))
		}
	}
}

func TestDeleteBookingHandler_PolicyReadFailureFallsBack(t *testing.T) {
	bookingID := newUUID()
	eventID := newUUID()

	store := &fakeBookingStore{}
	queue := &fakeWaitlistQueue{}
	policy := &fakePolicySource{
		boolFn: func(ctx context.Context, key string, def bool) (bool, error) {
			return def, errors.New("settings table unreachable")
		},
	}

	store.deleteTxFn = func(ctx context.Context, tx pgx.Tx, id string) (booking.Booking, error) {
		return booking.Booking{ID: id, EventID: eventID, GroupSize: 1}, nil
	}

	// the default is auto, so a broken read must still walk the queue
	availCalls := 0
	store.availabilityTxFn = func(ctx context.Context, tx pgx.Tx, id string) (event.Availability, error) {
		availCalls++
		return event.Availability{EventID: id, Capacity: 5, Occupied: 5, Available: 0}, nil
	}

	h := newBookingsHandler(store, queue, &fakeTaskEnqueuer{}, policy)
	r := setupRouterAs(http.MethodDelete, "/bookings/:bookingId", newUUID(), "admin", h.Delete)

	req := httptest.NewRequest(http.MethodDelete, "/bookings/"+bookingID, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
	}

	if availCalls != 1 {
		t.Fatalf("expected the auto sweep to run once, got %d availability reads", availCalls)
	}
}

func TestDeleteBookingHandler_NotFound(t *testing.T) {
	store := &fakeBookingStore{
		deleteTxFn: func(ctx context.Context, tx pgx.Tx, id string) (booking.Booking, error) {
			return booking.Booking{}, booking.ErrNotFound
		},
	}

	h := newBookingsHandler(store, &fakeWaitlistQueue{}, &fakeTaskEnqueuer{}, &fakePolicySource{})
	r := setupRouterAs(http.MethodDelete, "/bookings/:bookingId", newUUID(), "admin", h.Delete)

	req := httptest.NewRequest(http.MethodDelete, "/bookings/"+newUUID(), nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

// Toggle tests

func TestToggleBookingHandlers(t *testing.T) {
	bookingID := newUUID()

	store := &fakeBookingStore{
		togglePaidFn: func(ctx context.Context, id string) (booking.Booking, error) {
			return booking.Booking{ID: id, IsPaid: true}, nil
		},
		toggleAttendedFn: func(ctx context.Context, id string) (booking.Booking, error) {
			return booking.Booking{ID: id, IsAttended: true}, nil
		},
	}

	h := newBookingsHandler(store, &fakeWaitlistQueue{}, &fakeTaskEnqueuer{}, &fakePolicySource{})

	r := setupRouterAs(http.MethodPost, "/bookings/:bookingId/toggle-payment", newUUID(), "admin", h.TogglePaid)

	req := httptest.NewRequest(http.MethodPost, "/bookings/"+bookingID+"/toggle-payment", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var paid booking.Booking
	if err := json.Unmarshal(w.Body.Bytes(), &paid); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !paid.IsPaid {
		t.Fatalf("expected the paid flag flipped, got %+v", paid)
	}

	r2 := setupRouterAs(http.MethodPost, "/bookings/:bookingId/toggle-attendance", newUUID(), "admin", h.ToggleAttended)

	req2 := httptest.NewRequest(http.MethodPost, "/bookings/"+bookingID+"/toggle-attendance", nil)
	w2 := httptest.NewRecorder()
	r2.ServeHTTP(w2, req2)

	if w2.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w2.Code, http.StatusOK, w2.Body.String())
	}

	var attended booking.Booking
	if err := json.Unmarshal(w2.Body.Bytes(), &attended); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !attended.IsAttended {
		t.Fatalf("expected the attendance flag flipped, got %+v", attended)
	}

	// unknown id
	store.togglePaidFn = func(ctx context.Context, id string) (booking.Booking, error) {
		return booking.Booking{}, booking.ErrNotFound
	}

	req3 := httptest.NewRequest(http.MethodPost, "/bookings/"+newUUID()+"/toggle-payment", nil)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req3)

	if w3.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d, body=%s", w3.Code, http.StatusNotFound, w3.Body.String())
	}
}
