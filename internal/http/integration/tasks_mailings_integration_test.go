package integration_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/akorchagin/eventdesk/internal/domain/mailing"
	"github.com/akorchagin/eventdesk/internal/domain/task"
	"github.com/google/uuid"
)

type pollResponse struct {
	Channel string             `json:"channel"`
	Count   int                `json:"count"`
	Items   []task.PendingTask `json:"items"`
}

func pollChannel(t *testing.T, router http.Handler, channel, token string) pollResponse {
	t.Helper()

	w := doRequest(router, http.MethodGet, "/tasks?channel="+channel, "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("[poll %s] got status %d, want %d, body=%s", channel, w.Code, http.StatusOK, w.Body.String())
	}

	var resp pollResponse
	mustReadJSON(t, w, &resp)

	return resp
}

func TestTasksIntegration_PollAndComplete(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	setAutoPromote(t, pool, false)

	eventID := seedEvent(t, pool, 1)

	t1, _ := authToken(t, "user")
	t2, _ := authToken(t, "user")
	adminToken, _ := authToken(t, "admin")

	bookingID := bookSeat(t, router, eventID, t1)
	joinWaitlist(t, router, eventID, t2)

	w := doRequest(router, http.MethodDelete, "/bookings/"+bookingID, "", adminToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("[delete] got status %d, want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
	}

	resp := pollChannel(t, router, "telegram", adminToken)

	if resp.Count != 1 {
		t.Fatalf("expected one due task on telegram, got %d", resp.Count)
	}

	item := resp.Items[0]

	if item.Kind != task.KindWaitlistNotify {
		t.Fatalf("expected a seat-available task, got kind %q", item.Kind)
	}

	if item.Title != "Seat available: Test Event" {
		t.Fatalf("unexpected task title %q", item.Title)
	}

	// acknowledge it
	w2 := doRequest(router, http.MethodPost, "/tasks/"+item.ID+"/complete", "", adminToken)
	if w2.Code != http.StatusOK {
		t.Fatalf("[complete] got status %d, want %d, body=%s", w2.Code, http.StatusOK, w2.Body.String())
	}

	// completing twice is fine, completing a ghost is not
	w3 := doRequest(router, http.MethodPost, "/tasks/"+item.ID+"/complete", "", adminToken)
	if w3.Code != http.StatusOK {
		t.Fatalf("[complete again] got status %d, want %d, body=%s", w3.Code, http.StatusOK, w3.Body.String())
	}

	w4 := doRequest(router, http.MethodPost, "/tasks/"+uuid.NewString()+"/complete", "", adminToken)
	if w4.Code != http.StatusNotFound {
		t.Fatalf("[complete unknown] got status %d, want %d, body=%s", w4.Code, http.StatusNotFound, w4.Body.String())
	}

	// a completed task never comes back
	resp2 := pollChannel(t, router, "telegram", adminToken)
	if resp2.Count != 0 {
		t.Fatalf("expected the telegram queue drained, got %d items", resp2.Count)
	}

	// the other channels still carry their own copies
	resp3 := pollChannel(t, router, "vk", adminToken)
	if resp3.Count != 1 {
		t.Fatalf("expected the vk copy untouched, got %d items", resp3.Count)
	}
}

func TestTasksIntegration_ChannelValidation(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	adminToken, _ := authToken(t, "admin")

	w := doRequest(router, http.MethodGet, "/tasks", "", adminToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("[no channel] got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}

	w2 := doRequest(router, http.MethodGet, "/tasks?channel=pigeon", "", adminToken)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("[unknown channel] got status %d, want %d, body=%s", w2.Code, http.StatusBadRequest, w2.Body.String())
	}
}

func TestMailingsIntegration_CreateEnqueuesPerChannel(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	adminToken, _ := authToken(t, "admin")

	body := `{
		"title": "October schedule",
		"content": "Doors open at six.",
		"channels": ["telegram", "vk"]
	}`

	w := doRequest(router, http.MethodPost, "/mailings", body, adminToken)

	if w.Code != http.StatusCreated {
		t.Fatalf("[create] got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var m mailing.Mailing
	mustReadJSON(t, w, &m)

	if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks WHERE kind = $1 AND subject_id = $2 AND status = 'pending'`,
		task.KindMailing, m.ID); got != 2 {
		t.Fatalf("expected one task per channel, got %d", got)
	}

	resp := pollChannel(t, router, "telegram", adminToken)

	if resp.Count != 1 {
		t.Fatalf("expected the mailing due on telegram, got %d items", resp.Count)
	}

	if resp.Items[0].Title != "October schedule" || resp.Items[0].Description != "Doors open at six." {
		t.Fatalf("expected the mailing text on the task, got %+v", resp.Items[0])
	}

	// max was not asked for
	resp2 := pollChannel(t, router, "max", adminToken)
	if resp2.Count != 0 {
		t.Fatalf("expected nothing on max, got %d items", resp2.Count)
	}
}

func TestMailingsIntegration_UnknownChannelRejected(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	adminToken, _ := authToken(t, "admin")

	// nothing polls "pigeon", so such a task could never be delivered
	body := `{
		"title": "October schedule",
		"content": "Doors open at six.",
		"channels": ["pigeon", "telegram"]
	}`

	w := doRequest(router, http.MethodPost, "/mailings", body, adminToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("[create] got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}

	if got := countRows(t, pool, `SELECT COUNT(*) FROM mailings`); got != 0 {
		t.Fatalf("expected no mailing stored, got %d", got)
	}
	if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks`); got != 0 {
		t.Fatalf("expected no tasks enqueued, got %d", got)
	}

	// duplicates collapse to one task per channel
	w2 := doRequest(router, http.MethodPost, "/mailings", `{
		"title": "October schedule",
		"content": "Doors open at six.",
		"channels": ["telegram", "telegram"]
	}`, adminToken)
	if w2.Code != http.StatusCreated {
		t.Fatalf("[dedupe create] got status %d, want %d, body=%s", w2.Code, http.StatusCreated, w2.Body.String())
	}

	var m mailing.Mailing
	mustReadJSON(t, w2, &m)

	if len(m.Channels) != 1 {
		t.Fatalf("expected deduped channels, got %v", m.Channels)
	}
	if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks WHERE subject_id = $1`, m.ID); got != 1 {
		t.Fatalf("expected a single task row, got %d", got)
	}
}

func TestMailingsIntegration_ScheduledNotDue(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	adminToken, _ := authToken(t, "admin")

	scheduledAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	body := fmt.Sprintf(`{
		"title": "Next week",
		"content": "See you there.",
		"channels": ["telegram"],
		"scheduledAt": %q
	}`, scheduledAt.Format(time.RFC3339))

	w := doRequest(router, http.MethodPost, "/mailings", body, adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("[create] got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	// not due yet
	resp := pollChannel(t, router, "telegram", adminToken)
	if resp.Count != 0 {
		t.Fatalf("expected the scheduled mailing held back, got %d items", resp.Count)
	}

	// a poller looking far enough ahead sees it
	until := url.QueryEscape(scheduledAt.Add(time.Hour).Format(time.RFC3339))

	w2 := doRequest(router, http.MethodGet, "/tasks?channel=telegram&until="+until, "", adminToken)
	if w2.Code != http.StatusOK {
		t.Fatalf("[poll ahead] got status %d, want %d, body=%s", w2.Code, http.StatusOK, w2.Body.String())
	}

	var ahead pollResponse
	mustReadJSON(t, w2, &ahead)

	if ahead.Count != 1 || ahead.Items[0].Title != "Next week" {
		t.Fatalf("expected the scheduled mailing due by then, got %+v", ahead)
	}
}

func TestMailingsIntegration_UpdateRebuildsFanout(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	adminToken, _ := authToken(t, "admin")

	body := `{
		"title": "Venue change",
		"content": "New address inside.",
		"channels": ["telegram"]
	}`

	w := doRequest(router, http.MethodPost, "/mailings", body, adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("[create] got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var m mailing.Mailing
	mustReadJSON(t, w, &m)

	w2 := doRequest(router, http.MethodPut, "/mailings/"+m.ID, `{"channels": ["vk", "max"]}`, adminToken)
	if w2.Code != http.StatusOK {
		t.Fatalf("[update] got status %d, want %d, body=%s", w2.Code, http.StatusOK, w2.Body.String())
	}

	// the old fan-out is gone, the new one matches the new channel list
	if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks WHERE subject_id = $1 AND channel = 'telegram'`, m.ID); got != 0 {
		t.Fatalf("expected the telegram row dropped, got %d", got)
	}

	for _, ch := range []string{"vk", "max"} {
		if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks WHERE subject_id = $1 AND channel = $2 AND status = 'pending'`, m.ID, ch); got != 1 {
			t.Fatalf("expected one pending row on %s, got %d", ch, got)
		}
	}

	// content-only edits keep the fan-out as is
	w3 := doRequest(router, http.MethodPut, "/mailings/"+m.ID, `{"content": "Corrected address inside."}`, adminToken)
	if w3.Code != http.StatusOK {
		t.Fatalf("[content update] got status %d, want %d, body=%s", w3.Code, http.StatusOK, w3.Body.String())
	}

	if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks WHERE subject_id = $1 AND status = 'pending'`, m.ID); got != 2 {
		t.Fatalf("expected the fan-out untouched by a content edit, got %d", got)
	}
}

func TestMailingsIntegration_DeleteRetiresTasks(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	adminToken, _ := authToken(t, "admin")

	body := `{
		"title": "Cancelled",
		"content": "The event is off.",
		"channels": ["telegram", "vk", "max"]
	}`

	w := doRequest(router, http.MethodPost, "/mailings", body, adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("[create] got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var m mailing.Mailing
	mustReadJSON(t, w, &m)

	if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks WHERE subject_id = $1`, m.ID); got != 3 {
		t.Fatalf("expected 3 task rows, got %d", got)
	}

	w2 := doRequest(router, http.MethodDelete, "/mailings/"+m.ID, "", adminToken)
	if w2.Code != http.StatusNoContent {
		t.Fatalf("[delete] got status %d, want %d, body=%s", w2.Code, http.StatusNoContent, w2.Body.String())
	}

	if got := countRows(t, pool, `SELECT COUNT(*) FROM tasks WHERE subject_id = $1`, m.ID); got != 0 {
		t.Fatalf("expected no task rows after the delete, got %d", got)
	}

	w3 := doRequest(router, http.MethodGet, "/mailings/"+m.ID, "", adminToken)
	if w3.Code != http.StatusNotFound {
		t.Fatalf("[get after delete] got status %d, want %d, body=%s", w3.Code, http.StatusNotFound, w3.Body.String())
	}
}
