package accesstoken

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

var testIdentity = Identity{UserID: "user-123", Email: "ana@clinic.test", FullName: "Ana Souza", CRP: "06/123456"}

func mintToken(t *testing.T, signingKey []byte, issuer string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token, _, err := Mint(testIdentity, issuer, signingKey, issuedAt, ttl)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newTestValidator(t *testing.T, now time.Time) *Validator {
	t.Helper()
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "clinicgate-sandbox",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return validator
}

func TestNewValidatorRequiresConfiguration(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Issuer: "issuer"}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	if _, err := New(Config{SigningKey: []byte("secret")}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	validator, err := New(Config{SigningKey: []byte("secret"), Issuer: "issuer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.clock == nil {
		t.Fatalf("expected default clock to be set")
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, now)
	tokenValue := mintToken(t, []byte("secret-key"), "clinicgate-sandbox", now, time.Minute)

	claims, err := validator.ValidateToken(tokenValue)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.GetUserID() != "user-123" || claims.Email != "ana@clinic.test" || claims.CRP != "06/123456" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if !claims.GetExpiresAt().Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %v", claims.GetExpiresAt())
	}
}

func TestValidateTokenRejectsInvalidCases(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tests := []struct {
		name      string
		tokenFunc func() string
		expectErr error
	}{
		{
			name:      "empty token",
			tokenFunc: func() string { return "" },
			expectErr: ErrMissingToken,
		},
		{
			name:      "garbage",
			tokenFunc: func() string { return "not.a.jwt" },
			expectErr: ErrInvalidToken,
		},
		{
			name: "bad signature",
			tokenFunc: func() string {
				return mintToken(t, []byte("other-key"), "clinicgate-sandbox", now, time.Minute)
			},
			expectErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			tokenFunc: func() string {
				return mintToken(t, []byte("secret-key"), "other-issuer", now, time.Minute)
			},
			expectErr: ErrInvalidIssuer,
		},
		{
			name: "expired",
			tokenFunc: func() string {
				return mintToken(t, []byte("secret-key"), "clinicgate-sandbox", now.Add(-2*time.Minute), time.Minute)
			},
			expectErr: ErrTokenExpired,
		},
	}

	validator := newTestValidator(t, now)
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, validateErr := validator.ValidateToken(testCase.tokenFunc())
			if !errors.Is(validateErr, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, validateErr)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testCases := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "bearer   abc ", token: "abc", ok: true},
		{header: "Bearer ", ok: false},
		{header: "Basic abc", ok: false},
		{header: "", ok: false},
	}
	for _, testCase := range testCases {
		token, ok := BearerToken(testCase.header)
		if token != testCase.token || ok != testCase.ok {
			t.Fatalf("BearerToken(%q) = %q, %v", testCase.header, token, ok)
		}
	}
}

func TestInspectSkipsSignatureCheck(t *testing.T) {
	tokenValue := mintToken(t, []byte("unknown-key"), "clinicgate-sandbox", time.Now().Add(-time.Hour), time.Minute)
	claims, err := Inspect(tokenValue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.FullName != "Ana Souza" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if _, err := Inspect("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if _, err := Inspect(" "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestMintRequiresUserAndKey(t *testing.T) {
	if _, _, err := Mint(Identity{}, "issuer", []byte("key"), time.Now(), time.Minute); !errors.Is(err, errEmptyUserID) {
		t.Fatalf("expected empty user error, got %v", err)
	}
	if _, _, err := Mint(testIdentity, "issuer", nil, time.Now(), time.Minute); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, now)
	tokenValue := mintToken(t, []byte("secret-key"), "clinicgate-sandbox", now, time.Minute)
	expiredValue := mintToken(t, []byte("secret-key"), "clinicgate-sandbox", now.Add(-time.Hour), time.Minute)

	router := gin.New()
	router.Use(validator.GinMiddleware(""))
	router.GET("/patients", func(contextGin *gin.Context) {
		claims, ok := ClaimsFromContext(contextGin, "")
		if !ok || claims.UserID != "user-123" {
			contextGin.Status(http.StatusInternalServerError)
			return
		}
		contextGin.Status(http.StatusOK)
	})

	testCases := []struct {
		name           string
		authorization  string
		expectedStatus int
		expectedBody   string
	}{
		{name: "valid", authorization: "Bearer " + tokenValue, expectedStatus: http.StatusOK},
		{name: "missing", expectedStatus: http.StatusUnauthorized, expectedBody: `{"error":"missing_token"}`},
		{name: "expired", authorization: "Bearer " + expiredValue, expectedStatus: http.StatusUnauthorized, expectedBody: `{"error":"token_expired"}`},
		{name: "invalid", authorization: "Bearer nope", expectedStatus: http.StatusUnauthorized, expectedBody: `{"error":"invalid_token"}`},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/patients", nil)
			if testCase.authorization != "" {
				request.Header.Set("Authorization", testCase.authorization)
			}
			response := httptest.NewRecorder()
			router.ServeHTTP(response, request)
			if response.Code != testCase.expectedStatus {
				t.Fatalf("expected %d, got %d", testCase.expectedStatus, response.Code)
			}
			if testCase.expectedBody != "" && response.Body.String() != testCase.expectedBody {
				t.Fatalf("unexpected body %s", response.Body.String())
			}
		})
	}
}
