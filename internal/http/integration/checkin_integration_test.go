package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func registerAttendee(t *testing.T, env testEnv, eventID, userID string) (regID, qrCode string) {
	t.Helper()

	w := doJSON(env.router, http.MethodPost, "/v1/registrations",
		bearer(t, env.jwt, userID, ""),
		registerBody(eventID, "Checkin User", "checkin@example.com"))
	if w.Code != http.StatusCreated {
		t.Fatalf("register: got status %d, body=%s", w.Code, w.Body.String())
	}

	var reg struct {
		ID     string `json:"id"`
		QRCode string `json:"qrCode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return reg.ID, reg.QRCode
}

func TestCheckInIntegration_OrganizerOnly(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	organizerID := uuid.NewString()
	eventID := seedEvent(t, env.pool, organizerID, 5)

	_, qrCode := registerAttendee(t, env, eventID, uuid.NewString())
	body := `{"qrCode":"` + qrCode + `"}`

	// a non-organizer holding a valid ticket token cannot check in
	w := doJSON(env.router, http.MethodPost, "/v1/check-in",
		bearer(t, env.jwt, uuid.NewString(), ""), body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger check-in: got status %d, want 403, body=%s", w.Code, w.Body.String())
	}

	organizerAuthz := bearer(t, env.jwt, organizerID, "")

	w2 := doJSON(env.router, http.MethodPost, "/v1/check-in", organizerAuthz, body)
	if w2.Code != http.StatusOK {
		t.Fatalf("organizer check-in: got status %d, body=%s", w2.Code, w2.Body.String())
	}

	var resp struct {
		Success      bool   `json:"success"`
		AttendeeName string `json:"attendeeName"`
	}
	if err := json.Unmarshal(w2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.AttendeeName != "Checkin User" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// the flip is monotonic: a second scan is rejected
	w3 := doJSON(env.router, http.MethodPost, "/v1/check-in", organizerAuthz, body)
	if w3.Code != http.StatusBadRequest {
		t.Fatalf("second check-in: got status %d, want 400, body=%s", w3.Code, w3.Body.String())
	}

	var errResp apiErrorResponse
	if err := json.Unmarshal(w3.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Error.Code != "already_checked_in" {
		t.Fatalf("expected error code 'already_checked_in', got '%s'", errResp.Error.Code)
	}
}

func TestCheckInIntegration_SingleWinnerUnderConcurrency(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	organizerID := uuid.NewString()
	eventID := seedEvent(t, env.pool, organizerID, 5)

	_, qrCode := registerAttendee(t, env, eventID, uuid.NewString())

	body := `{"qrCode":"` + qrCode + `"}`
	authz := bearer(t, env.jwt, organizerID, "")

	const scans = 8
	codes := make([]int, scans)

	var wg sync.WaitGroup
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			codes[n] = doJSON(env.router, http.MethodPost, "/v1/check-in", authz, body).Code
		}(i)
	}
	wg.Wait()

	var won, rejected int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			won++
		case http.StatusBadRequest:
			rejected++
		default:
			t.Fatalf("unexpected status %d in concurrent scans", code)
		}
	}

	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
	if rejected != scans-1 {
		t.Fatalf("rejections = %d, want %d", rejected, scans-1)
	}
}

func TestCheckInIntegration_UnknownToken(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	w := doJSON(env.router, http.MethodPost, "/v1/check-in",
		bearer(t, env.jwt, uuid.NewString(), ""),
		`{"qrCode":"EVT-zzzzzzzz-aaaaaaaaaaaa"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404, body=%s", w.Code, w.Body.String())
	}
}

func TestCheckInIntegration_CancelledTicketRejected(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	organizerID := uuid.NewString()
	eventID := seedEvent(t, env.pool, organizerID, 5)

	userID := uuid.NewString()
	regID, qrCode := registerAttendee(t, env, eventID, userID)

	w := doJSON(env.router, http.MethodPost, "/v1/registrations/"+regID+"/cancel",
		bearer(t, env.jwt, userID, ""), `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: got status %d, body=%s", w.Code, w.Body.String())
	}

	w2 := doJSON(env.router, http.MethodPost, "/v1/check-in",
		bearer(t, env.jwt, organizerID, ""),
		`{"qrCode":"`+qrCode+`"}`)
	if w2.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404 for a cancelled ticket, body=%s", w2.Code, w2.Body.String())
	}

	// and the attendee row really is untouched
	var checkedIn bool
	if err := env.pool.QueryRow(context.Background(),
		`SELECT checked_in FROM registrations WHERE id = $1`, regID).Scan(&checkedIn); err != nil {
		t.Fatalf("query: %v", err)
	}
	if checkedIn {
		t.Fatal("cancelled registration was checked in")
	}
}

func TestCheckInIntegration_UsedTicketCannotBeCancelled(t *testing.T) {
	env := setupTestEnv(t)
	resetDB(t, env.pool)
	defer resetDB(t, env.pool)

	organizerID := uuid.NewString()
	eventID := seedEvent(t, env.pool, organizerID, 5)

	userID := uuid.NewString()
	regID, qrCode := registerAttendee(t, env, eventID, userID)

	w := doJSON(env.router, http.MethodPost, "/v1/check-in",
		bearer(t, env.jwt, organizerID, ""),
		`{"qrCode":"`+qrCode+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("check-in: got status %d, body=%s", w.Code, w.Body.String())
	}

	// the attendee is inside; their seat must not be released back to the pool
	w2 := doJSON(env.router, http.MethodPost, "/v1/registrations/"+regID+"/cancel",
		bearer(t, env.jwt, userID, ""), `{}`)
	if w2.Code != http.StatusConflict {
		t.Fatalf("cancel after check-in: got status %d, want 409, body=%s", w2.Code, w2.Body.String())
	}

	var errResp apiErrorResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Error.Code != "already_checked_in" {
		t.Fatalf("expected error code 'already_checked_in', got '%s'", errResp.Error.Code)
	}

	var status string
	var checkedIn bool
	if err := env.pool.QueryRow(context.Background(),
		`SELECT status, checked_in FROM registrations WHERE id = $1`, regID).Scan(&status, &checkedIn); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "confirmed" || !checkedIn {
		t.Fatalf("registration = (%s, checked_in=%v), want (confirmed, checked_in=true)", status, checkedIn)
	}

	var count int
	if err := env.pool.QueryRow(context.Background(),
		`SELECT registration_count FROM events WHERE id = $1`, eventID).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("registration_count = %d, want 1 (seat must stay taken)", count)
	}
}
