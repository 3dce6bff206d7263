package mindfork

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the MindFork API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register the auth endpoints unless a test overrides them.
	if _, ok := handlers["POST /v1/auth/token"]; !ok {
		mux.HandleFunc("POST /v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  serverURL,
		Email:    "test@example.com",
		Password: "hunter2hunter2",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "http://localhost:8080"}); err == nil {
		t.Error("expected error when no credentials are provided")
	}
	if _, err := NewClient(Config{Email: "a@b.c", Password: "x"}); err == nil {
		t.Error("expected error when BaseURL is missing")
	}
	if _, err := NewClient(Config{
		BaseURL: "http://localhost:8080",
		KeyID:   uuid.New(),
		APIKey:  "mk_secret",
	}); err != nil {
		t.Errorf("service-key credentials should be accepted: %v", err)
	}
}

func TestResolveLayout(t *testing.T) {
	userID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/users/{user_id}/layout": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			if got := r.URL.Query().Get("area"); got != "home" {
				t.Errorf("expected area=home, got %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Resolution{
					Features: []string{"macro_tracking", "streak_banner"},
					Layout: Layout{
						Key:  "home_keto",
						Area: "home",
						Components: []LayoutComponent{
							{ComponentKey: "macro_rings", Position: 0},
							{ComponentKey: "meal_timeline", Position: 1},
						},
					},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.ResolveLayout(context.Background(), userID, "home")
	if err != nil {
		t.Fatalf("ResolveLayout failed: %v", err)
	}
	if res.Layout.Key != "home_keto" {
		t.Errorf("expected layout home_keto, got %q", res.Layout.Key)
	}
	if len(res.Features) != 2 {
		t.Errorf("expected 2 features, got %d", len(res.Features))
	}
	if len(res.Layout.Components) != 2 || res.Layout.Components[0].ComponentKey != "macro_rings" {
		t.Errorf("unexpected components: %+v", res.Layout.Components)
	}
}

func TestLogMealReturnsSideEffects(t *testing.T) {
	userID := uuid.New()
	mealID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/users/{user_id}/meals": func(w http.ResponseWriter, r *http.Request) {
			var in MealLogInput
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Fatalf("decode meal input: %v", err)
			}
			if in.MealType != "lunch" || in.Description != "chicken salad" {
				t.Errorf("unexpected meal input: %+v", in)
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": LogMealResponse{
					Meal:      MealLog{ID: mealID, UserID: userID, MealType: "lunch", Description: "chicken salad"},
					AwardedXP: []XPEntry{{UserID: userID, Amount: 10, Reason: "meal_logged"}},
					Streak:    Streak{UserID: userID, Current: 3, Best: 7},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.LogMeal(context.Background(), userID, MealLogInput{
		MealType:    "lunch",
		Description: "chicken salad",
		Calories:    450,
	})
	if err != nil {
		t.Fatalf("LogMeal failed: %v", err)
	}
	if resp.Meal.ID != mealID {
		t.Errorf("expected meal ID %s, got %s", mealID, resp.Meal.ID)
	}
	if len(resp.AwardedXP) != 1 || resp.AwardedXP[0].Amount != 10 {
		t.Errorf("unexpected XP: %+v", resp.AwardedXP)
	}
	if resp.Streak.Current != 3 {
		t.Errorf("expected streak 3, got %d", resp.Streak.Current)
	}
}

func TestPutTraits(t *testing.T) {
	userID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /v1/users/{user_id}/traits": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Traits []TraitInput `json:"traits"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode traits: %v", err)
			}
			if len(body.Traits) != 2 {
				t.Fatalf("expected 2 traits, got %d", len(body.Traits))
			}
			out := make([]Trait, 0, len(body.Traits))
			for _, in := range body.Traits {
				out = append(out, Trait{UserID: userID, Key: in.Key, Value: in.Value, Confidence: 1})
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": out})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	traits, err := client.PutTraits(context.Background(), userID, []TraitInput{
		{Key: "diet_type", Value: "keto"},
		{Key: "goal", Value: "weight_loss"},
	})
	if err != nil {
		t.Fatalf("PutTraits failed: %v", err)
	}
	if len(traits) != 2 || traits[0].Key != "diet_type" {
		t.Errorf("unexpected traits: %+v", traits)
	}
}

func TestSearchFoodsEncodesQuery(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/foods/search": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("q") != "greek yogurt" {
				t.Errorf("expected q='greek yogurt', got %q", q.Get("q"))
			}
			if q.Get("tags") != "high_protein,low_carb" {
				t.Errorf("expected tags filter, got %q", q.Get("tags"))
			}
			if q.Get("limit") != "5" {
				t.Errorf("expected limit=5, got %q", q.Get("limit"))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []FoodSearchResult{
					{Food: Food{Name: "Greek Yogurt"}, Score: 0.92},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	results, err := client.SearchFoods(context.Background(), "greek yogurt", []string{"high_protein", "low_carb"}, 5)
	if err != nil {
		t.Fatalf("SearchFoods failed: %v", err)
	}
	if len(results) != 1 || results[0].Food.Name != "Greek Yogurt" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestTokenRefreshOnExpiry(t *testing.T) {
	var authCalls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/auth/token": func(w http.ResponseWriter, r *http.Request) {
			n := authCalls.Add(1)
			// First token expires immediately so the next call must refresh.
			expiry := time.Now().Add(-1 * time.Minute)
			if n > 1 {
				expiry = time.Now().Add(1 * time.Hour)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": expiry.Format(time.RFC3339),
				},
			})
		},
		"GET /v1/coach/personas": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []CoachPersona{}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for range 2 {
		if _, err := client.ListPersonas(context.Background()); err != nil {
			t.Fatalf("ListPersonas failed: %v", err)
		}
	}
	if got := authCalls.Load(); got != 2 {
		t.Errorf("expected 2 auth calls (initial + refresh), got %d", got)
	}
}

func TestServiceTokenAuth(t *testing.T) {
	keyID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/auth/service-token": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				KeyID  uuid.UUID `json:"key_id"`
				APIKey string    `json:"api_key"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode service token request: %v", err)
			}
			if body.KeyID != keyID || body.APIKey != "mk_secret" {
				t.Errorf("unexpected credentials: %+v", body)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "service-token-abc",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /v1/coach/personas": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer service-token-abc" {
				t.Errorf("expected service token, got %q", r.Header.Get("Authorization"))
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": []CoachPersona{}})
		},
	})
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, KeyID: keyID, APIKey: "mk_secret"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.ListPersonas(context.Background()); err != nil {
		t.Fatalf("ListPersonas failed: %v", err)
	}
}

func TestErrorParsing(t *testing.T) {
	userID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/users/{user_id}/progress": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "user not found"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetProgress(context.Background(), userID)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
	apiErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.Message != "user not found" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
}

func TestDeleteTraitNoContent(t *testing.T) {
	userID := uuid.New()
	called := false

	srv := mockServer(t, map[string]http.HandlerFunc{
		"DELETE /v1/users/{user_id}/traits/{key}": func(w http.ResponseWriter, r *http.Request) {
			called = true
			if r.PathValue("key") != "diet_type" {
				t.Errorf("expected key diet_type, got %q", r.PathValue("key"))
			}
			w.WriteHeader(http.StatusNoContent)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if err := client.DeleteTrait(context.Background(), userID, "diet_type"); err != nil {
		t.Fatalf("DeleteTrait failed: %v", err)
	}
	if !called {
		t.Error("delete endpoint was not called")
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/auth/token": func(w http.ResponseWriter, r *http.Request) {
			t.Error("health check must not authenticate")
		},
		"GET /healthz": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health request must not carry a token")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "ok", Version: "1.2.3", Postgres: "ok"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "ok" || h.Version != "1.2.3" {
		t.Errorf("unexpected health response: %+v", h)
	}
}

func TestOnboard(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/onboarding": func(w http.ResponseWriter, r *http.Request) {
			var in OnboardingRequest
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Fatalf("decode onboarding request: %v", err)
			}
			if in.Answers["diet_type"] != "vegan" {
				t.Errorf("expected diet_type answer, got %+v", in.Answers)
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": OnboardingResponse{
					User:      User{Email: in.Email, DisplayName: in.DisplayName},
					Token:     "fresh-token",
					TraitKeys: []string{"diet_type"},
					AwardedXP: 50,
				},
			})
		},
	})
	defer srv.Close()

	resp, err := Onboard(context.Background(), srv.URL, OnboardingRequest{
		Email:       "new@example.com",
		DisplayName: "New User",
		Password:    "correct horse battery",
		Answers:     map[string]string{"diet_type": "vegan"},
	}, nil)
	if err != nil {
		t.Fatalf("Onboard failed: %v", err)
	}
	if resp.Token != "fresh-token" || resp.AwardedXP != 50 {
		t.Errorf("unexpected onboarding response: %+v", resp)
	}
}
