package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestDeleteEventIntegration_CascadesAndFansOut(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	organizerID := uuid.NewString()
	eventID := seedEvent(t, env.pool, organizerID, 10)

	regIDs := make([]string, 0, 3)

	for i := 0; i < 3; i++ {
		w := doJSON(env.router, http.MethodPost, "/v1/registrations",
			bearer(t, env.jwt, uuid.NewString(), ""),
			registerBody(eventID, fmt.Sprintf("Attendee %d", i), fmt.Sprintf("attendee%d@example.com", i)))
		if w.Code != http.StatusCreated {
			t.Fatalf("register %d: got status %d, body=%s", i, w.Code, w.Body.String())
		}

		var reg struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		regIDs = append(regIDs, reg.ID)
	}

	w := doJSON(env.router, http.MethodDelete, "/v1/events/"+eventID,
		bearer(t, env.jwt, organizerID, ""), "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Success             bool  `json:"success"`
		RegistrationsGone   int64 `json:"registrationsRemoved"`
		NotificationsQueued int   `json:"notificationsQueued"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.RegistrationsGone != 3 || resp.NotificationsQueued != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	ctx := context.Background()

	var remaining int
	if err := env.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1`, eventID).Scan(&remaining); err != nil {
		t.Fatalf("query registrations: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("registrations left = %d, want 0", remaining)
	}

	var eventRows int
	if err := env.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE id = $1`, eventID).Scan(&eventRows); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if eventRows != 0 {
		t.Fatalf("event rows = %d, want 0", eventRows)
	}

	// one cancellation mail per removed registration, keyed per registration
	for _, regID := range regIDs {
		var jobCount int
		if err := env.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM jobs WHERE idempotency_key = $1`,
			"email:event.cancelled:"+regID).Scan(&jobCount); err != nil {
			t.Fatalf("query jobs: %v", err)
		}
		if jobCount != 1 {
			t.Fatalf("registration %s: %d cancellation jobs, want 1", regID, jobCount)
		}
	}
}

func TestDeleteEventIntegration_StrangerForbidden(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	eventID := seedEvent(t, env.pool, uuid.NewString(), 10)

	w := doJSON(env.router, http.MethodDelete, "/v1/events/"+eventID,
		bearer(t, env.jwt, uuid.NewString(), ""), "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403, body=%s", w.Code, w.Body.String())
	}

	var eventRows int
	if err := env.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM events WHERE id = $1`, eventID).Scan(&eventRows); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if eventRows != 1 {
		t.Fatal("event disappeared despite the 403")
	}
}

func TestDeleteEventIntegration_AdminOverride(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	eventID := seedEvent(t, env.pool, uuid.NewString(), 10)

	w := doJSON(env.router, http.MethodDelete, "/v1/events/"+eventID,
		bearer(t, env.jwt, uuid.NewString(), "admin"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}
}
