package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/clinicgate/pkg/credentials"
	"github.com/tyemirov/clinicgate/pkg/gateway"
	"go.uber.org/zap"
)

// API paths of the practice backend.
const (
	PathLogin          = "/auth/login"
	PathLogout         = "/auth/logout"
	PathUsers          = "/users"
	PathCurrentUser    = "/users/me"
	PathPatients       = "/patients"
	PathAvailableSlots = "/sessions/available-slots"
	PathSessions       = "/sessions"
)

// ErrEmptyLoginResponse indicates the API accepted a login without returning an access token.
var ErrEmptyLoginResponse = errors.New("clinic.login.empty_access_token")

// Gateway is the subset of *gateway.Client the services use.
type Gateway interface {
	Get(ctx context.Context, path string, options ...gateway.RequestOption) (*gateway.Response, error)
	Post(ctx context.Context, path string, body any, options ...gateway.RequestOption) (*gateway.Response, error)
	Credentials() credentials.Store
}

// AuthService signs the psychologist in and out.
type AuthService struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(client Gateway, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{gateway: client, logger: logger}
}

// Login exchanges email and password for a credential pair and stores it.
func (service *AuthService) Login(ctx context.Context, request LoginRequest) (LoginResponse, error) {
	request.Email = strings.TrimSpace(request.Email)
	if err := Validate(request); err != nil {
		return LoginResponse{}, err
	}
	response, err := service.gateway.Post(ctx, PathLogin, request)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("clinic.login: %w", err)
	}
	var login LoginResponse
	if err := response.Decode(&login); err != nil {
		return LoginResponse{}, fmt.Errorf("clinic.login: %w", err)
	}
	if strings.TrimSpace(login.AccessToken) == "" {
		return LoginResponse{}, fmt.Errorf("clinic.login: %w", ErrEmptyLoginResponse)
	}
	pair := credentials.Pair{AccessToken: login.AccessToken, RefreshToken: login.RefreshToken}
	if err := service.gateway.Credentials().SetPair(ctx, pair); err != nil {
		return LoginResponse{}, fmt.Errorf("clinic.login.store: %w", err)
	}
	service.logger.Info("signed in", zap.String("email", request.Email))
	return login, nil
}

// Logout asks the API to revoke the refresh token, then clears local credentials
// whether or not the API call succeeded.
func (service *AuthService) Logout(ctx context.Context) error {
	store := service.gateway.Credentials()
	if credentials.IsAuthenticated(ctx, store) {
		refreshToken, _ := store.RefreshToken(ctx)
		if _, err := service.gateway.Post(ctx, PathLogout, LogoutRequest{RefreshToken: refreshToken}); err != nil {
			service.logger.Warn("logout request failed",
				zap.String("code", "clinic.logout.request_failed"),
				zap.Error(err))
		}
	}
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clinic.logout.clear: %w", err)
	}
	return nil
}

// UserService registers psychologists.
type UserService struct {
	gateway Gateway
}

// NewUserService constructs a UserService.
func NewUserService(client Gateway) *UserService {
	return &UserService{gateway: client}
}

// Register creates a psychologist account. The CPF is sent without its mask.
func (service *UserService) Register(ctx context.Context, request UserRegistrationRequest) (UserSummary, error) {
	request.Email = strings.TrimSpace(request.Email)
	request.CPF = RemoveCPFMask(request.CPF)
	if err := Validate(request); err != nil {
		return UserSummary{}, err
	}
	response, err := service.gateway.Post(ctx, PathUsers, request)
	if err != nil {
		return UserSummary{}, fmt.Errorf("clinic.users.register: %w", err)
	}
	var user UserSummary
	if err := response.Decode(&user); err != nil {
		return UserSummary{}, fmt.Errorf("clinic.users.register: %w", err)
	}
	return user, nil
}

// Current returns the account behind the stored access token.
func (service *UserService) Current(ctx context.Context) (UserSummary, error) {
	response, err := service.gateway.Get(ctx, PathCurrentUser)
	if err != nil {
		return UserSummary{}, fmt.Errorf("clinic.users.current: %w", err)
	}
	var user UserSummary
	if err := response.Decode(&user); err != nil {
		return UserSummary{}, fmt.Errorf("clinic.users.current: %w", err)
	}
	return user, nil
}

// PatientService lists and registers patients.
type PatientService struct {
	gateway Gateway
}

// NewPatientService constructs a PatientService.
func NewPatientService(client Gateway) *PatientService {
	return &PatientService{gateway: client}
}

// List returns the signed-in psychologist's patients.
func (service *PatientService) List(ctx context.Context) ([]Patient, error) {
	response, err := service.gateway.Get(ctx, PathPatients)
	if err != nil {
		return nil, fmt.Errorf("clinic.patients.list: %w", err)
	}
	patients := []Patient{}
	if err := response.Decode(&patients); err != nil {
		return nil, fmt.Errorf("clinic.patients.list: %w", err)
	}
	return patients, nil
}

// Register creates a patient record.
func (service *PatientService) Register(ctx context.Context, request PatientRegistrationRequest) (PatientRegistrationResponse, error) {
	request.Identification.CPF = RemoveCPFMask(request.Identification.CPF)
	if err := Validate(request); err != nil {
		return PatientRegistrationResponse{}, err
	}
	response, err := service.gateway.Post(ctx, PathPatients, request)
	if err != nil {
		return PatientRegistrationResponse{}, fmt.Errorf("clinic.patients.register: %w", err)
	}
	var registered PatientRegistrationResponse
	if err := response.Decode(&registered); err != nil {
		return PatientRegistrationResponse{}, fmt.Errorf("clinic.patients.register: %w", err)
	}
	return registered, nil
}

// ScheduleService reads open slots and books sessions.
type ScheduleService struct {
	gateway Gateway
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(client Gateway) *ScheduleService {
	return &ScheduleService{gateway: client}
}

// AvailableSlots returns the open slots grouped by date.
func (service *ScheduleService) AvailableSlots(ctx context.Context) ([]AvailableSlot, error) {
	response, err := service.gateway.Get(ctx, PathAvailableSlots)
	if err != nil {
		return nil, fmt.Errorf("clinic.sessions.available_slots: %w", err)
	}
	slots := []AvailableSlot{}
	if err := response.Decode(&slots); err != nil {
		return nil, fmt.Errorf("clinic.sessions.available_slots: %w", err)
	}
	return slots, nil
}

// Schedule books a session.
func (service *ScheduleService) Schedule(ctx context.Context, request ScheduleSessionRequest) (ScheduleSessionResponse, error) {
	if err := Validate(request); err != nil {
		return ScheduleSessionResponse{}, err
	}
	response, err := service.gateway.Post(ctx, PathSessions, request)
	if err != nil {
		return ScheduleSessionResponse{}, fmt.Errorf("clinic.sessions.schedule: %w", err)
	}
	var scheduled ScheduleSessionResponse
	if err := response.Decode(&scheduled); err != nil {
		return ScheduleSessionResponse{}, fmt.Errorf("clinic.sessions.schedule: %w", err)
	}
	return scheduled, nil
}
