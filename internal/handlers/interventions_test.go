package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/onboardly/engagement-engine/internal/store"
	"github.com/onboardly/engagement-engine/pkg/intervention"
)

func newInterventionRouter(t *testing.T) (*gin.Engine, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	r := gin.New()
	RegisterInterventionRoutes(r, st)
	return r, st
}

func seedIntervention(t *testing.T, st *store.MemoryStore, id, userID, sessionID string) {
	t.Helper()
	err := st.AppendIntervention(context.Background(), &intervention.Record{
		ID:          id,
		UserID:      userID,
		SessionID:   sessionID,
		TriggeredAt: testNow,
		Message:     "check the field mapping",
	})
	if err != nil {
		t.Fatalf("AppendIntervention() error = %v", err)
	}
}

func TestGetInterventionBySession(t *testing.T) {
	r, st := newInterventionRouter(t)
	seedIntervention(t, st, "int-1", "user-1", "sess-1")
	seedIntervention(t, st, "int-2", "user-1", "sess-1")

	w := getPath(r, "/interventions/sess-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", w.Code)
	}

	var resp struct {
		Intervention *intervention.Record `json:"intervention"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Intervention == nil || resp.Intervention.ID != "int-2" {
		t.Errorf("intervention = %+v, expected the most recent int-2", resp.Intervention)
	}
}

func TestGetInterventionBySessionNone(t *testing.T) {
	r, _ := newInterventionRouter(t)

	w := getPath(r, "/interventions/sess-unknown")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200 with null intervention", w.Code)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if string(resp["intervention"]) != "null" {
		t.Errorf("intervention = %s, expected null", resp["intervention"])
	}
}

func TestGetInterventionsByUser(t *testing.T) {
	r, st := newInterventionRouter(t)
	seedIntervention(t, st, "int-1", "user-1", "sess-1")
	seedIntervention(t, st, "int-2", "user-1", "sess-2")
	seedIntervention(t, st, "int-3", "user-2", "sess-3")

	w := getPath(r, "/interventions/user/user-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", w.Code)
	}

	var resp struct {
		UserID        string                 `json:"user_id"`
		Interventions []*intervention.Record `json:"interventions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(resp.Interventions) != 2 {
		t.Errorf("returned %d interventions, expected 2", len(resp.Interventions))
	}
}

func TestGetInterventionsByUserEmptyIsArray(t *testing.T) {
	r, _ := newInterventionRouter(t)

	w := getPath(r, "/interventions/user/nobody")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", w.Code)
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if string(resp["interventions"]) != "[]" {
		t.Errorf("interventions = %s, expected empty array not null", resp["interventions"])
	}
}

func postFeedback(r *gin.Engine, id string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/interventions/"+id+"/feedback", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostFeedback(t *testing.T) {
	r, st := newInterventionRouter(t)
	seedIntervention(t, st, "int-1", "user-1", "sess-1")

	w := postFeedback(r, "int-1", `{"was_helpful": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200, body %s", w.Code, w.Body.String())
	}

	stored, err := st.LatestInterventionBySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("LatestInterventionBySession() error = %v", err)
	}
	if stored.WasHelpful == nil || !*stored.WasHelpful {
		t.Errorf("WasHelpful = %v, expected true", stored.WasHelpful)
	}

	// Feedback can be revised.
	if w := postFeedback(r, "int-1", `{"was_helpful": false}`); w.Code != http.StatusOK {
		t.Fatalf("revision status = %d, expected 200", w.Code)
	}
	stored, _ = st.LatestInterventionBySession(context.Background(), "sess-1")
	if stored.WasHelpful == nil || *stored.WasHelpful {
		t.Errorf("WasHelpful = %v, expected false after revision", stored.WasHelpful)
	}
}

func TestPostFeedbackValidation(t *testing.T) {
	r, st := newInterventionRouter(t)
	seedIntervention(t, st, "int-1", "user-1", "sess-1")

	if w := postFeedback(r, "int-1", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing was_helpful status = %d, expected 400", w.Code)
	}
	if w := postFeedback(r, "int-1", `{"was_helpful": "yes"}`); w.Code != http.StatusBadRequest {
		t.Errorf("non-bool was_helpful status = %d, expected 400", w.Code)
	}
}

func TestPostFeedbackUnknownIntervention(t *testing.T) {
	r, _ := newInterventionRouter(t)

	if w := postFeedback(r, "int-unknown", `{"was_helpful": true}`); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", w.Code)
	}
}
