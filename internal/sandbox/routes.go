package sandbox

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/clinicgate/internal/clinic"
	"github.com/tyemirov/clinicgate/pkg/accesstoken"
	"go.uber.org/zap"
)

const (
	eventLoginSuccess       = "sandbox.login.success"
	eventLoginFailure       = "sandbox.login.failure"
	eventRefreshSuccess     = "sandbox.refresh.success"
	eventRefreshFailure     = "sandbox.refresh.failure"
	eventLogout             = "sandbox.logout"
	eventUserRegistered     = "sandbox.users.registered"
	eventPatientRegistered  = "sandbox.patients.registered"
	eventSessionScheduled   = "sandbox.sessions.scheduled"
	claimsContextKey        = "sandbox_claims"
	messageInvalidRequest   = "invalid request body"
	messageInvalidRefresh   = "refresh token is invalid or expired"
	messageInvalidLoginPair = "invalid credentials"
)

type refreshTokenBody struct {
	RefreshToken string `json:"refreshToken"`
}

// MountRoutes registers the public auth routes and the bearer-protected practice routes.
func (server *Server) MountRoutes(router gin.IRouter) {
	router.GET("/health", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if server.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(server.metricsHandler))
	}

	router.POST("/auth/login", server.handleLogin)
	router.POST("/auth/refresh", server.handleRefresh)
	router.POST("/users", server.handleRegisterUser)

	protected := router.Group("")
	protected.Use(server.validator.GinMiddleware(claimsContextKey))
	protected.POST("/auth/logout", server.handleLogout)
	protected.GET("/users/me", server.handleCurrentUser)
	protected.GET("/patients", server.handleListPatients)
	protected.POST("/patients", server.handleRegisterPatient)
	protected.GET("/sessions/available-slots", server.handleAvailableSlots)
	protected.POST("/sessions", server.handleScheduleSession)
}

func (server *Server) handleLogin(contextGin *gin.Context) {
	var inbound clinic.LoginRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		abortWithMessage(contextGin, http.StatusBadRequest, "invalid_json", messageInvalidRequest)
		return
	}
	if err := clinic.Validate(inbound); err != nil {
		abortWithValidation(contextGin, err)
		return
	}
	user, authErr := server.directory.Authenticate(contextGin, inbound.Email, inbound.Password)
	if authErr != nil {
		server.metrics.Increment(eventLoginFailure)
		abortWithMessage(contextGin, http.StatusUnauthorized, "invalid_credentials", messageInvalidLoginPair)
		return
	}
	accessToken, refreshToken, issueErr := server.issuePair(contextGin, user, "")
	if issueErr != nil {
		server.logger.Error("credential issue failed",
			zap.String("code", "sandbox.login.issue_failed"),
			zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.metrics.Increment(eventLoginSuccess)
	contextGin.JSON(http.StatusOK, clinic.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         &user,
	})
}

func (server *Server) handleRefresh(contextGin *gin.Context) {
	var inbound refreshTokenBody
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
		server.metrics.Increment(eventRefreshFailure)
		abortWithMessage(contextGin, http.StatusUnauthorized, "missing_refresh_token", messageInvalidRefresh)
		return
	}
	now := server.configuration.Clock.Now()
	userID, currentTokenID, validateErr := server.refreshTokens.Validate(contextGin, inbound.RefreshToken, now)
	if validateErr != nil {
		server.metrics.Increment(eventRefreshFailure)
		abortWithMessage(contextGin, http.StatusUnauthorized, "invalid_refresh_token", messageInvalidRefresh)
		return
	}
	user, userErr := server.directory.User(contextGin, userID)
	if userErr != nil {
		server.metrics.Increment(eventRefreshFailure)
		abortWithMessage(contextGin, http.StatusUnauthorized, "invalid_refresh_token", messageInvalidRefresh)
		return
	}
	accessToken, refreshToken, issueErr := server.issuePair(contextGin, user, currentTokenID)
	if issueErr != nil {
		server.logger.Error("credential rotation failed",
			zap.String("code", "sandbox.refresh.issue_failed"),
			zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if revokeErr := server.refreshTokens.Revoke(contextGin, currentTokenID, now); revokeErr != nil {
		server.logger.Error("refresh token revoke failed",
			zap.String("code", "sandbox.refresh.revoke_failed"),
			zap.Error(revokeErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.metrics.Increment(eventRefreshSuccess)
	contextGin.JSON(http.StatusOK, gin.H{"accessToken": accessToken, "refreshToken": refreshToken})
}

func (server *Server) handleLogout(contextGin *gin.Context) {
	claims, _ := accesstoken.ClaimsFromContext(contextGin, claimsContextKey)
	var inbound refreshTokenBody
	_ = contextGin.ShouldBindJSON(&inbound)
	if strings.TrimSpace(inbound.RefreshToken) != "" {
		now := server.configuration.Clock.Now()
		userID, tokenID, validateErr := server.refreshTokens.Validate(contextGin, inbound.RefreshToken, now)
		if validateErr == nil && userID == claims.GetUserID() {
			_ = server.refreshTokens.Revoke(contextGin, tokenID, now)
		}
	}
	server.metrics.Increment(eventLogout)
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleRegisterUser(contextGin *gin.Context) {
	var inbound clinic.UserRegistrationRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		abortWithMessage(contextGin, http.StatusBadRequest, "invalid_json", messageInvalidRequest)
		return
	}
	inbound.CPF = clinic.RemoveCPFMask(inbound.CPF)
	if err := clinic.Validate(inbound); err != nil {
		abortWithValidation(contextGin, err)
		return
	}
	user, registerErr := server.directory.RegisterUser(contextGin, inbound)
	if errors.Is(registerErr, ErrEmailTaken) {
		abortWithMessage(contextGin, http.StatusConflict, "email_taken", "email already registered")
		return
	}
	if registerErr != nil {
		server.logger.Error("user registration failed",
			zap.String("code", "sandbox.users.register_failed"),
			zap.Error(registerErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.metrics.Increment(eventUserRegistered)
	contextGin.JSON(http.StatusCreated, user)
}

func (server *Server) handleCurrentUser(contextGin *gin.Context) {
	claims, _ := accesstoken.ClaimsFromContext(contextGin, claimsContextKey)
	user, err := server.directory.User(contextGin, claims.GetUserID())
	if err != nil {
		abortWithMessage(contextGin, http.StatusUnauthorized, "user_not_found", "user no longer exists")
		return
	}
	contextGin.JSON(http.StatusOK, user)
}

func (server *Server) handleListPatients(contextGin *gin.Context) {
	claims, _ := accesstoken.ClaimsFromContext(contextGin, claimsContextKey)
	contextGin.JSON(http.StatusOK, server.directory.Patients(contextGin, claims.GetUserID()))
}

func (server *Server) handleRegisterPatient(contextGin *gin.Context) {
	claims, _ := accesstoken.ClaimsFromContext(contextGin, claimsContextKey)
	var inbound clinic.PatientRegistrationRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		abortWithMessage(contextGin, http.StatusBadRequest, "invalid_json", messageInvalidRequest)
		return
	}
	if err := clinic.Validate(inbound); err != nil {
		abortWithValidation(contextGin, err)
		return
	}
	if inbound.PsychologistID != claims.GetUserID() {
		abortWithMessage(contextGin, http.StatusForbidden, "psychologist_mismatch", "patients can only be registered for the signed-in psychologist")
		return
	}
	patient := server.directory.AddPatient(contextGin, claims.GetUserID(), inbound, server.configuration.Clock.Now())
	server.metrics.Increment(eventPatientRegistered)
	contextGin.JSON(http.StatusCreated, clinic.PatientRegistrationResponse{
		ID:      patient.ID,
		Message: "patient registered",
		Success: true,
	})
}

func (server *Server) handleAvailableSlots(contextGin *gin.Context) {
	claims, _ := accesstoken.ClaimsFromContext(contextGin, claimsContextKey)
	booked := server.directory.BookedStarts(contextGin, claims.GetUserID())
	contextGin.JSON(http.StatusOK, availableSlots(server.configuration.Clock.Now(), server.configuration.SlotDays, booked))
}

func (server *Server) handleScheduleSession(contextGin *gin.Context) {
	claims, _ := accesstoken.ClaimsFromContext(contextGin, claimsContextKey)
	var inbound clinic.ScheduleSessionRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		abortWithMessage(contextGin, http.StatusBadRequest, "invalid_json", messageInvalidRequest)
		return
	}
	if err := clinic.Validate(inbound); err != nil {
		abortWithValidation(contextGin, err)
		return
	}
	startsAt, parseErr := time.Parse(time.RFC3339, inbound.ScheduledDateTime)
	if parseErr != nil || !startsAt.After(server.configuration.Clock.Now()) {
		abortWithMessage(contextGin, http.StatusBadRequest, "invalid_schedule", "scheduledDateTime must be a future RFC 3339 timestamp")
		return
	}
	sessionID, bookErr := server.directory.BookSession(contextGin, claims.GetUserID(), inbound, startsAt.UTC())
	switch {
	case errors.Is(bookErr, ErrPatientNotFound):
		abortWithMessage(contextGin, http.StatusNotFound, "patient_not_found", "patient not found")
		return
	case errors.Is(bookErr, ErrSlotTaken):
		abortWithMessage(contextGin, http.StatusConflict, "slot_taken", "time slot already booked")
		return
	case bookErr != nil:
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.metrics.Increment(eventSessionScheduled)
	contextGin.JSON(http.StatusCreated, clinic.ScheduleSessionResponse{
		ID:      sessionID,
		Message: "session scheduled",
		Success: true,
	})
}

// issuePair mints an access token and a rotating refresh token for user.
func (server *Server) issuePair(contextGin *gin.Context, user clinic.UserSummary, previousTokenID string) (string, string, error) {
	now := server.configuration.Clock.Now()
	accessToken, _, mintErr := accesstoken.Mint(accesstoken.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		CRP:      user.CRP,
	}, server.configuration.Issuer, server.configuration.SigningKey, now, server.configuration.AccessTokenTTL)
	if mintErr != nil {
		return "", "", mintErr
	}
	_, refreshToken, issueErr := server.refreshTokens.Issue(contextGin, user.ID, now.Add(server.configuration.RefreshTokenTTL), previousTokenID)
	if issueErr != nil {
		return "", "", issueErr
	}
	return accessToken, refreshToken, nil
}

func abortWithMessage(contextGin *gin.Context, status int, code string, message string) {
	contextGin.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func abortWithValidation(contextGin *gin.Context, err error) {
	var validationError *clinic.ValidationError
	if !errors.As(err, &validationError) {
		abortWithMessage(contextGin, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	fields := make(map[string]string, len(validationError.Fields))
	for _, field := range validationError.Fields {
		fields[field.Field] = field.Rule
	}
	contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": validationError.Error(),
		"fields":  fields,
	})
}
