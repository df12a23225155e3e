package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tyemirov/clinicgate/internal/clinic"
	"github.com/tyemirov/clinicgate/internal/metrics"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type sandboxHarness struct {
	handler http.Handler
	clock   *controllableClock
	metrics *metrics.CounterMetrics
}

func newSandboxHarness(t *testing.T, configuration Config) *sandboxHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := &controllableClock{current: time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)}
	configuration.SigningKey = []byte("sandbox-test-key")
	configuration.Clock = clock
	directory := NewDirectory()
	directory.hashCost = bcrypt.MinCost
	recorder := metrics.NewCounterMetrics()
	server, err := New(configuration, Dependencies{
		Directory: directory,
		Logger:    zaptest.NewLogger(t),
		Metrics:   recorder,
	})
	if err != nil {
		t.Fatalf("failed to build sandbox: %v", err)
	}
	return &sandboxHarness{handler: server.Handler(), clock: clock, metrics: recorder}
}

func (harness *sandboxHarness) call(t *testing.T, method string, path string, accessToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		payload = encoded
	}
	request := httptest.NewRequest(method, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeInto(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode %s: %v", recorder.Body.String(), err)
	}
}

var registration = clinic.UserRegistrationRequest{
	FullName: "Ana Souza",
	Email:    "ana@clinic.test",
	Password: "Secure@123",
	CRP:      "06/123456",
	CPF:      "529.982.247-25",
}

func (harness *sandboxHarness) signUpAndLogin(t *testing.T) clinic.LoginResponse {
	t.Helper()
	registered := harness.call(t, http.MethodPost, "/users", "", registration)
	if registered.Code != http.StatusCreated {
		t.Fatalf("expected 201 on registration, got %d: %s", registered.Code, registered.Body.String())
	}
	loggedIn := harness.call(t, http.MethodPost, "/auth/login", "", clinic.LoginRequest{Email: registration.Email, Password: registration.Password})
	if loggedIn.Code != http.StatusOK {
		t.Fatalf("expected 200 on login, got %d: %s", loggedIn.Code, loggedIn.Body.String())
	}
	var login clinic.LoginResponse
	decodeInto(t, loggedIn, &login)
	if login.AccessToken == "" || login.RefreshToken == "" || login.User == nil {
		t.Fatalf("expected credential pair and user, got %#v", login)
	}
	return login
}

func TestSandboxPracticeWorkflow(t *testing.T) {
	harness := newSandboxHarness(t, Config{})
	login := harness.signUpAndLogin(t)

	if response := harness.call(t, http.MethodGet, "/patients", "", nil); response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", response.Code)
	}

	me := harness.call(t, http.MethodGet, "/users/me", login.AccessToken, nil)
	var user clinic.UserSummary
	decodeInto(t, me, &user)
	if user.CRP != registration.CRP || user.ID != login.User.ID {
		t.Fatalf("unexpected current user %#v", user)
	}

	form := clinic.PatientFormData{
		Identification: clinic.IdentificationStep{FullName: "Bruno Lima", BirthDate: "1990-04-12", Gender: "M", CPF: "111.444.777-35", IsOver18: true},
		Contact:        clinic.ContactStep{Email: "bruno@example.com"},
	}
	created := harness.call(t, http.MethodPost, "/patients", login.AccessToken, clinic.MapFormToRequest(form, user.ID))
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var patientResponse clinic.PatientRegistrationResponse
	decodeInto(t, created, &patientResponse)

	listed := harness.call(t, http.MethodGet, "/patients", login.AccessToken, nil)
	var patients []clinic.Patient
	decodeInto(t, listed, &patients)
	if len(patients) != 1 || patients[0].ID != patientResponse.ID || patients[0].FullName != "Bruno Lima" {
		t.Fatalf("unexpected patients %#v", patients)
	}

	slotsResponse := harness.call(t, http.MethodGet, "/sessions/available-slots", login.AccessToken, nil)
	var slots []clinic.AvailableSlot
	decodeInto(t, slotsResponse, &slots)
	if len(slots) != DefaultSlotDays {
		t.Fatalf("expected %d days of slots, got %d", DefaultSlotDays, len(slots))
	}

	schedule := clinic.ScheduleSessionRequest{
		PatientID:         patientResponse.ID,
		ScheduledDateTime: slots[0].Date + "T" + slots[0].TimeSlots[0].StartTime + ":00Z",
		DurationMinutes:   50,
		Type:              clinic.SessionOnline,
	}
	booked := harness.call(t, http.MethodPost, "/sessions", login.AccessToken, schedule)
	if booked.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", booked.Code, booked.Body.String())
	}
	if again := harness.call(t, http.MethodPost, "/sessions", login.AccessToken, schedule); again.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double booking, got %d", again.Code)
	}

	decodeInto(t, harness.call(t, http.MethodGet, "/sessions/available-slots", login.AccessToken, nil), &slots)
	if len(slots[0].TimeSlots) != len(practiceHours)-1 {
		t.Fatalf("expected booked slot to disappear, got %d", len(slots[0].TimeSlots))
	}

	schedule.PatientID = "someone-else"
	if unknown := harness.call(t, http.MethodPost, "/sessions", login.AccessToken, schedule); unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown patient, got %d", unknown.Code)
	}
	if harness.metrics.Count(eventSessionScheduled) != 1 || harness.metrics.Count(eventPatientRegistered) != 1 {
		t.Fatalf("unexpected metrics %v", harness.metrics.Snapshot())
	}
}

func TestSandboxRefreshRotation(t *testing.T) {
	harness := newSandboxHarness(t, Config{AccessTokenTTL: time.Minute})
	login := harness.signUpAndLogin(t)

	harness.clock.Advance(2 * time.Minute)
	expired := harness.call(t, http.MethodGet, "/patients", login.AccessToken, nil)
	if expired.Code != http.StatusUnauthorized || !strings.Contains(expired.Body.String(), "token_expired") {
		t.Fatalf("expected expired token rejection, got %d %s", expired.Code, expired.Body.String())
	}

	refreshed := harness.call(t, http.MethodPost, "/auth/refresh", "", refreshTokenBody{RefreshToken: login.RefreshToken})
	if refreshed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", refreshed.Code, refreshed.Body.String())
	}
	var pair struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	decodeInto(t, refreshed, &pair)
	if pair.RefreshToken == login.RefreshToken {
		t.Fatalf("expected refresh token rotation")
	}
	if response := harness.call(t, http.MethodGet, "/patients", pair.AccessToken, nil); response.Code != http.StatusOK {
		t.Fatalf("expected refreshed access token to work, got %d", response.Code)
	}

	replayed := harness.call(t, http.MethodPost, "/auth/refresh", "", refreshTokenBody{RefreshToken: login.RefreshToken})
	if replayed.Code != http.StatusUnauthorized {
		t.Fatalf("expected rotated refresh token to be rejected, got %d", replayed.Code)
	}
	if missing := harness.call(t, http.MethodPost, "/auth/refresh", "", map[string]string{}); missing.Code != http.StatusUnauthorized {
		t.Fatalf("expected missing refresh token to be rejected, got %d", missing.Code)
	}
	if harness.metrics.Count(eventRefreshSuccess) != 1 || harness.metrics.Count(eventRefreshFailure) != 2 {
		t.Fatalf("unexpected metrics %v", harness.metrics.Snapshot())
	}
}

func TestSandboxLogoutRevokesRefreshToken(t *testing.T) {
	harness := newSandboxHarness(t, Config{})
	login := harness.signUpAndLogin(t)

	loggedOut := harness.call(t, http.MethodPost, "/auth/logout", login.AccessToken, refreshTokenBody{RefreshToken: login.RefreshToken})
	if loggedOut.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", loggedOut.Code)
	}
	if refreshed := harness.call(t, http.MethodPost, "/auth/refresh", "", refreshTokenBody{RefreshToken: login.RefreshToken}); refreshed.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked refresh token, got %d", refreshed.Code)
	}
}

func TestSandboxRejectsInvalidRequests(t *testing.T) {
	harness := newSandboxHarness(t, Config{})
	harness.signUpAndLogin(t)

	duplicate := harness.call(t, http.MethodPost, "/users", "", registration)
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", duplicate.Code)
	}

	badCPF := registration
	badCPF.Email = "other@clinic.test"
	badCPF.CPF = "111.111.111-11"
	badCPF.Password = "weak"
	rejected := harness.call(t, http.MethodPost, "/users", "", badCPF)
	if rejected.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rejected.Code)
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	decodeInto(t, rejected, &body)
	if body.Fields["cpf"] != "cpf" || body.Fields["password"] != "password" {
		t.Fatalf("expected cpf and password field errors, got %v", body.Fields)
	}

	wrongPassword := harness.call(t, http.MethodPost, "/auth/login", "", clinic.LoginRequest{Email: registration.Email, Password: "Wrong@1234"})
	if wrongPassword.Code != http.StatusUnauthorized || !strings.Contains(wrongPassword.Body.String(), messageInvalidLoginPair) {
		t.Fatalf("expected 401 with message, got %d %s", wrongPassword.Code, wrongPassword.Body.String())
	}

	malformed := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, malformed)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", recorder.Code)
	}
}

func TestSandboxRejectsForeignPsychologist(t *testing.T) {
	harness := newSandboxHarness(t, Config{})
	login := harness.signUpAndLogin(t)

	request := clinic.MapFormToRequest(clinic.PatientFormData{
		Identification: clinic.IdentificationStep{FullName: "Carla", BirthDate: "1985-01-01", Gender: "F"},
	}, "another-psychologist")
	if response := harness.call(t, http.MethodPost, "/patients", login.AccessToken, request); response.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", response.Code)
	}
}

func TestSandboxHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheusMetrics(registry, "sandbox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	server, err := New(Config{SigningKey: []byte("key")}, Dependencies{
		Metrics:        recorder,
		MetricsHandler: metrics.Handler(registry),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handler := server.Handler()

	loginRequest := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"nobody@clinic.test","password":"x"}`))
	handler.ServeHTTP(httptest.NewRecorder(), loginRequest)

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK || !strings.Contains(health.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", health.Code, health.Body.String())
	}

	exposition := httptest.NewRecorder()
	handler.ServeHTTP(exposition, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(exposition.Body.String(), `sandbox_events_total{event="sandbox.login.failure"} 1`) {
		t.Fatalf("expected login failure counter, got %s", exposition.Body.String())
	}
}

func TestSandboxCORS(t *testing.T) {
	harness := newSandboxHarness(t, Config{AllowedOrigins: []string{"http://localhost:5173"}})

	preflight := httptest.NewRequest(http.MethodOptions, "/patients", nil)
	preflight.Header.Set("Origin", "http://localhost:5173")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)
	preflight.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, preflight)
	if recorder.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("expected CORS allow origin header, got %v", recorder.Header())
	}

	if _, err := New(Config{SigningKey: []byte("key"), AllowedOrigins: []string{"*"}}, Dependencies{}); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("expected wildcard origin to be rejected, got %v", err)
	}
}

func TestNormalizeOrigins(t *testing.T) {
	normalized, err := normalizeOrigins([]string{"https://App.Example.com/", "https://app.example.com", " http://localhost:3000 ", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(normalized, ",") != "https://app.example.com,http://localhost:3000" {
		t.Fatalf("expected ordered deduplicated origins, got %v", normalized)
	}
	if empty, err := normalizeOrigins(nil); err != nil || len(empty) != 0 {
		t.Fatalf("expected no origins and no error, got %v %v", empty, err)
	}

	testCases := []struct {
		name   string
		origin string
	}{
		{name: "wildcard", origin: "*"},
		{name: "scheme", origin: "ftp://example.com"},
		{name: "path", origin: "https://example.com/path"},
		{name: "bare host", origin: "example.com"},
		{name: "query", origin: "https://example.com?x=1"},
		{name: "userinfo", origin: "https://user@example.com"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := normalizeOrigins([]string{testCase.origin}); !errors.Is(err, ErrInvalidOrigin) {
				t.Fatalf("expected %q to be rejected, got %v", testCase.origin, err)
			}
		})
	}
}

func TestIsLoopbackOrigin(t *testing.T) {
	for origin, expected := range map[string]bool{
		"http://localhost:5173":   true,
		"http://127.0.0.1:8080":   true,
		"http://[::1]:3000":       true,
		"http://clinic.test":      false,
		"https://app.example.com": false,
	} {
		if got := isLoopbackOrigin(origin); got != expected {
			t.Fatalf("isLoopbackOrigin(%q) = %v, want %v", origin, got, expected)
		}
	}
}

func TestNewRequiresSigningKey(t *testing.T) {
	if _, err := New(Config{}, Dependencies{}); err == nil {
		t.Fatalf("expected missing signing key error")
	}
	if _, err := New(Config{SigningKey: []byte("key"), AccessTokenTTL: -time.Second}, Dependencies{}); err == nil {
		t.Fatalf("expected invalid ttl error")
	}
}
