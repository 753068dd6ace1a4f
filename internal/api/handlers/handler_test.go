package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"go.uber.org/zap"

	"github.com/langchou/petgazer/internal/api/kippy"
	"github.com/langchou/petgazer/internal/config"
	"github.com/langchou/petgazer/internal/repository"
	"github.com/langchou/petgazer/internal/service"
	"github.com/langchou/petgazer/pkg/ws"
)

// fakeKippy 返回固定数据的 Kippy 客户端
type fakeKippy struct {
	pets    []kippy.Pet
	mapData *kippy.MapData
}

func (f *fakeKippy) GetPetKippyList(ctx context.Context) ([]kippy.Pet, error) {
	return f.pets, nil
}

func (f *fakeKippy) MapAction(ctx context.Context, kippyID int64, opts *kippy.MapActionOptions) (*kippy.MapData, error) {
	return f.mapData, nil
}

func (f *fakeKippy) GetActivityCategories(ctx context.Context, petID int64, from, to time.Time, timeDivision int) (*kippy.ActivityCategories, error) {
	return &kippy.ActivityCategories{}, nil
}

func (f *fakeKippy) ModifyKippySettings(ctx context.Context, kippyID int64, update kippy.SettingsUpdate) error {
	return nil
}

type testEnv struct {
	router *gin.Engine
	mock   pgxmock.PgxPoolIface
	svc    *service.TrackerService
}

func newTestEnv(t *testing.T, pets []kippy.Pet) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	db := repository.NewWithQuerier(mock)
	petRepo := repository.NewPetRepository(db)
	posRepo := repository.NewPositionRepository(db)

	cfg := &config.Config{
		IdleRefresh:          300 * time.Second,
		LiveRefresh:          10 * time.Second,
		ActivityRefreshDelay: 2 * time.Minute,
		IgnoreLBS:            true,
	}

	logger := zap.NewNop()
	client := &fakeKippy{pets: pets, mapData: &kippy.MapData{}}
	hub := ws.NewHub(logger)
	svc := service.NewTrackerService(cfg, logger, client, nil, nil, hub)

	if err := svc.RefreshPets(context.Background()); err != nil {
		t.Fatalf("seed pets: %v", err)
	}

	router := gin.New()
	NewHandler(logger, petRepo, posRepo, svc, hub).RegisterRoutes(router)

	return &testEnv{router: router, mock: mock, svc: svc}
}

func (e *testEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func testPet(petID, kippyID int64, name string) kippy.Pet {
	expired := kippy.FlexInt(-30)
	freq := kippy.FlexInt(3)
	return kippy.Pet{
		PetID:           kippy.FlexInt(petID),
		KippyID:         kippy.FlexInt(kippyID),
		PetName:         name,
		PetKind:         "4",
		ExpiredDays:     &expired,
		UpdateFrequency: &freq,
	}
}

func TestListPets(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex"), testPet(2, 200, "Momo")})

	w := env.request(t, http.MethodGet, "/api/pets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data []struct {
			PetID int64  `json:"pet_id"`
			Name  string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Errorf("expected 2 pets, got %d", len(resp.Data))
	}
}

func TestGetPet(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodGet, "/api/pets/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data struct {
			Name    string `json:"name"`
			KippyID int64  `json:"kippy_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Name != "Rex" || resp.Data.KippyID != 100 {
		t.Errorf("unexpected pet: %+v", resp.Data)
	}
}

func TestGetPetInvalidID(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.request(t, http.MethodGet, "/api/pets/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetPetFallsBackToDatabase(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectQuery(`SELECT .+ FROM pets WHERE pet_id`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "pet_id", "kippy_id", "name", "kind", "imei", "serial",
			"device_model", "firmware", "expired_days", "update_frequency",
			"energy_saving", "gps_on_default", "created_at", "updated_at",
		}).AddRow(
			int64(1), int64(7), int64(700), "Ghost", "Cat", "", "",
			"", "", (*int64)(nil), (*int64)(nil),
			false, (*bool)(nil), time.Now(), time.Now(),
		))

	w := env.request(t, http.MethodGet, "/api/pets/7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Ghost") {
		t.Errorf("expected stored pet in response, got %s", w.Body.String())
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetPetNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectQuery(`SELECT .+ FROM pets WHERE pet_id`).
		WithArgs(int64(99)).
		WillReturnError(context.Canceled)

	w := env.request(t, http.MethodGet, "/api/pets/99", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetPetState(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodGet, "/api/pets/1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"state":"idle"`) {
		t.Errorf("expected state payload, got %s", w.Body.String())
	}
}

func TestGetPetEntities(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodGet, "/api/pets/1/entities", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "1_battery") {
		t.Errorf("expected battery entity, got %s", w.Body.String())
	}
}

func TestListPetPositions(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	env.mock.ExpectQuery(`SELECT .+ FROM positions WHERE pet_id`).
		WithArgs(int64(1), 100, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "pet_id", "latitude", "longitude", "accuracy", "altitude",
			"technology", "battery", "fix_time", "contact_time", "created_at",
		}).AddRow(
			int64(1), int64(1), 45.07, 7.69, (*float64)(nil), (*float64)(nil),
			"GPS", (*float64)(nil), (*time.Time)(nil), (*time.Time)(nil), time.Now(),
		))

	w := env.request(t, http.MethodGet, "/api/pets/1/positions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "45.07") {
		t.Errorf("expected position in response, got %s", w.Body.String())
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetLiveTrackingRejectedInEnergySaving(t *testing.T) {
	pet := testPet(1, 100, "Rex")
	pet.EnergySaving = true
	env := newTestEnv(t, []kippy.Pet{pet})

	w := env.request(t, http.MethodPost, "/api/pets/1/live", `{"on":true}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetLiveTracking(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodPost, "/api/pets/1/live", `{"on":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	state := env.request(t, http.MethodGet, "/api/pets/1/state", "")
	if !strings.Contains(state.Body.String(), `"live"`) {
		t.Errorf("expected live state, got %s", state.Body.String())
	}
}

func TestSetLiveTrackingBadBody(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodPost, "/api/pets/1/live", `{`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestUpdateSettingsRejectsOutOfRangeFrequency(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodPut, "/api/pets/1/settings", `{"update_frequency_hours":99}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateSettingsAppliesRefreshIntervals(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodPut, "/api/pets/1/settings",
		`{"idle_refresh_seconds":60,"live_refresh_seconds":5,"ignore_lbs":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	cfg, ok := env.svc.GetRefreshSettings(1)
	if !ok {
		t.Fatal("expected refresh settings")
	}
	if cfg.IdleRefresh != time.Minute || cfg.LiveRefresh != 5*time.Second || cfg.IgnoreLBS {
		t.Errorf("settings not applied: %+v", cfg)
	}
}

func TestRequestRefreshUnknownPet(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.request(t, http.MethodPost, "/api/pets/42/refresh", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRequestRefreshAccepted(t *testing.T) {
	env := newTestEnv(t, []kippy.Pet{testPet(1, 100, "Rex")})

	w := env.request(t, http.MethodPost, "/api/pets/1/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.request(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("unexpected health body: %s", w.Body.String())
	}
}
