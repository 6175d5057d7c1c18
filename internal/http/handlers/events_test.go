package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aivent/aivent/internal/cache"
	"github.com/aivent/aivent/internal/domain/event"
	"github.com/aivent/aivent/internal/domain/job"
	"github.com/aivent/aivent/internal/domain/registration"
	"github.com/aivent/aivent/internal/http/handlers"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type fakeEventsRepo struct {
	getFn    func(ctx context.Context, id string) (event.Event, error)
	getForFn func(ctx context.Context, id string) (event.Event, error)
	deleteFn func(ctx context.Context, id string) error

	gets    int
	deletes int
}

func (f *fakeEventsRepo) GetByID(ctx context.Context, id string) (event.Event, error) {
	f.gets++
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return event.Event{}, event.ErrNotFound
}

func (f *fakeEventsRepo) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (event.Event, error) {
	if f.getForFn != nil {
		return f.getForFn(ctx, id)
	}
	return event.Event{}, event.ErrNotFound
}

func (f *fakeEventsRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	f.deletes++
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

type fakeCascadeRepo struct {
	tx *fakeTx

	regs      []registration.Registration
	listErr   error
	deleted   int64
	deleteErr error
}

func (f *fakeCascadeRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return f.tx, nil
}

func (f *fakeCascadeRepo) ListConfirmedByEventTx(ctx context.Context, tx pgx.Tx, eventID string) ([]registration.Registration, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.regs, nil
}

func (f *fakeCascadeRepo) DeleteAllForEventTx(ctx context.Context, tx pgx.Tx, eventID string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted = int64(len(f.regs))
	return f.deleted, nil
}

type fakeCancelProducer struct {
	failAfter int // fail on the Nth call (1-based); 0 = never fail
	calls     int
}

func (f *fakeCancelProducer) EnqueueEventCancelledTx(ctx context.Context, tx pgx.Tx, reg registration.Registration, evt event.Event) (job.Job, error) {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return job.Job{}, errors.New("enqueue blew up")
	}
	return job.Job{ID: newUUID()}, nil
}

func TestGetEventByID_CachesReads(t *testing.T) {
	eventID := newUUID()

	repo := &fakeEventsRepo{
		getFn: func(ctx context.Context, id string) (event.Event, error) {
			return event.Event{ID: id, Title: "GopherCon", Capacity: 100, RegistrationCount: 37}, nil
		},
	}

	h := handlers.NewEventsHandler(repo, &fakeCascadeRepo{}, &fakeCancelProducer{}, cache.New(0))

	r := gin.New()
	r.GET("/v1/events/:id", h.GetByID)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/events/"+eventID, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		// cached and uncached reads return the same envelope
		var resp struct {
			Event     event.Event `json:"event"`
			SeatsLeft int         `json:"seatsLeft"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Event.ID != eventID || resp.Event.Title != "GopherCon" {
			t.Fatalf("unexpected event: %+v", resp.Event)
		}
		if resp.SeatsLeft != 63 {
			t.Fatalf("seatsLeft = %d, want 63", resp.SeatsLeft)
		}
	}

	if repo.gets != 1 {
		t.Fatalf("repo hit %d times, want 1 (cache should absorb repeats)", repo.gets)
	}
}

func TestGetEventByID_NotFound(t *testing.T) {
	h := handlers.NewEventsHandler(&fakeEventsRepo{}, &fakeCascadeRepo{}, &fakeCancelProducer{}, nil)

	r := gin.New()
	r.GET("/v1/events/:id", h.GetByID)

	req := httptest.NewRequest(http.MethodGet, "/v1/events/"+newUUID(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDeleteEvent(t *testing.T) {
	organizerID := newUUID()
	strangerID := newUUID()
	eventID := newUUID()

	ownedEvent := func(ctx context.Context, id string) (event.Event, error) {
		return event.Event{ID: id, OrganizerID: organizerID, Title: "GopherCon"}, nil
	}

	threeRegs := []registration.Registration{
		{ID: newUUID(), EventID: eventID, Status: registration.StatusConfirmed},
		{ID: newUUID(), EventID: eventID, Status: registration.StatusConfirmed},
		{ID: newUUID(), EventID: eventID, Status: registration.StatusConfirmed},
	}

	tests := []struct {
		name           string
		caller         string
		role           string
		getForFn       func(ctx context.Context, id string) (event.Event, error)
		regs           []registration.Registration
		failEnqueueAt  int
		wantStatusCode int
		wantQueued     int
		wantCommitted  bool
	}{
		{
			name:           "organizer_deletes_with_fanout",
			caller:         organizerID,
			getForFn:       ownedEvent,
			regs:           threeRegs,
			wantStatusCode: http.StatusOK,
			wantQueued:     3,
			wantCommitted:  true,
		},
		{
			name:           "admin_deletes",
			caller:         strangerID,
			role:           "admin",
			getForFn:       ownedEvent,
			regs:           nil,
			wantStatusCode: http.StatusOK,
			wantQueued:     0,
			wantCommitted:  true,
		},
		{
			name:           "stranger_forbidden",
			caller:         strangerID,
			getForFn:       ownedEvent,
			regs:           threeRegs,
			wantStatusCode: http.StatusForbidden,
			wantQueued:     0,
		},
		{
			name:   "event_not_found",
			caller: organizerID,
			getForFn: func(ctx context.Context, id string) (event.Event, error) {
				return event.Event{}, event.ErrNotFound
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "enqueue_failure_rolls_everything_back",
			caller:         organizerID,
			getForFn:       ownedEvent,
			regs:           threeRegs,
			failEnqueueAt:  2,
			wantStatusCode: http.StatusInternalServerError,
			wantQueued:     2, // two calls made, second one failed
			wantCommitted:  false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events := &fakeEventsRepo{getForFn: tc.getForFn}
			cascade := &fakeCascadeRepo{regs: tc.regs}
			producer := &fakeCancelProducer{failAfter: tc.failEnqueueAt}

			h := handlers.NewEventsHandler(events, cascade, producer, nil)

			r := gin.New()
			r.Use(identity(tc.caller, tc.role))
			r.DELETE("/v1/events/:id", h.Delete)

			req := httptest.NewRequest(http.MethodDelete, "/v1/events/"+eventID, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.wantStatusCode {
				t.Fatalf("status = %d, want %d (body=%s)", w.Code, tc.wantStatusCode, w.Body.String())
			}

			if producer.calls != tc.wantQueued {
				t.Fatalf("enqueue calls = %d, want %d", producer.calls, tc.wantQueued)
			}

			if tc.wantCommitted {
				if cascade.tx == nil || !cascade.tx.committed {
					t.Fatal("expected the cascade transaction to commit")
				}

				var resp struct {
					Success             bool  `json:"success"`
					RegistrationsGone   int64 `json:"registrationsRemoved"`
					NotificationsQueued int   `json:"notificationsQueued"`
				}
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if !resp.Success || resp.NotificationsQueued != len(tc.regs) {
					t.Fatalf("unexpected response: %+v", resp)
				}
			} else if cascade.tx != nil && cascade.tx.committed {
				t.Fatal("transaction committed, expected rollback")
			}
		})
	}
}

func TestDeleteEvent_InvalidatesCache(t *testing.T) {
	organizerID := newUUID()
	eventID := newUUID()

	c := cache.New(0)
	c.Set("event:"+eventID, event.Event{ID: eventID})

	events := &fakeEventsRepo{
		getForFn: func(ctx context.Context, id string) (event.Event, error) {
			return event.Event{ID: id, OrganizerID: organizerID}, nil
		},
	}

	h := handlers.NewEventsHandler(events, &fakeCascadeRepo{}, &fakeCancelProducer{}, c)

	r := gin.New()
	r.Use(identity(organizerID, ""))
	r.DELETE("/v1/events/:id", h.Delete)

	req := httptest.NewRequest(http.MethodDelete, "/v1/events/"+eventID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}

	if _, ok := c.Get("event:" + eventID); ok {
		t.Fatal("cache entry survived the delete")
	}
}
