package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"github.com/tyemirov/clinicgate/internal/clinic"
	"github.com/tyemirov/clinicgate/pkg/accesstoken"
	"github.com/tyemirov/clinicgate/pkg/credentials"
	"github.com/tyemirov/clinicgate/pkg/gateway"
	"go.uber.org/zap"
)

const healthPath = "/health"

var (
	errNotSignedIn         = errors.New("cli.not_signed_in")
	errMissingFormFile     = errors.New("cli.patients.missing_form_file")
	errMissingPsychologist = errors.New("cli.patients.missing_psychologist_id")
)

func writeJSON(command *cobra.Command, value any) error {
	encoder := json.NewEncoder(command.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// runWithSession opens a session for the command, runs action, and releases the session.
func runWithSession(action func(command *cobra.Command, activeSession *session) error) func(*cobra.Command, []string) error {
	return func(command *cobra.Command, arguments []string) error {
		activeSession, err := openSession(command)
		if err != nil {
			return err
		}
		defer activeSession.Close()
		return action(command, activeSession)
	}
}

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password and store the credential pair",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			email, _ := command.Flags().GetString("email")
			password, _ := command.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("CLINICGATE_PASSWORD")
			}
			login, err := activeSession.auth.Login(command.Context(), clinic.LoginRequest{Email: email, Password: password})
			if err != nil {
				return err
			}
			if login.User != nil {
				return writeJSON(command, login.User)
			}
			return writeJSON(command, map[string]string{"status": "signed_in"})
		}),
	}
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password (falls back to CLINICGATE_PASSWORD)")
	return command
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and clear stored credentials",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			if err := activeSession.auth.Logout(command.Context()); err != nil {
				return err
			}
			return writeJSON(command, map[string]string{"status": "signed_out"})
		}),
	}
}

type whoAmIOutput struct {
	User           clinic.UserSummary `json:"user"`
	TokenExpiresAt time.Time          `json:"tokenExpiresAt"`
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account and access token expiry",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			ctx := command.Context()
			accessToken, err := activeSession.store.AccessToken(ctx)
			if err != nil {
				return err
			}
			if strings.TrimSpace(accessToken) == "" {
				return errNotSignedIn
			}
			claims, inspectErr := accesstoken.Inspect(accessToken)
			if inspectErr != nil {
				activeSession.logger.Warn("stored access token is not a readable JWT",
					zap.String("code", "cli.whoami.inspect_failed"),
					zap.Error(inspectErr))
			}
			user, err := activeSession.users.Current(ctx)
			if err != nil {
				return err
			}
			// The gateway may have refreshed the token while loading the account.
			if refreshedToken, _ := activeSession.store.AccessToken(ctx); refreshedToken != accessToken {
				if refreshedClaims, refreshedErr := accesstoken.Inspect(refreshedToken); refreshedErr == nil {
					claims = refreshedClaims
				}
			}
			return writeJSON(command, whoAmIOutput{User: user, TokenExpiresAt: claims.GetExpiresAt()})
		}),
	}
}

func newRegisterCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "register",
		Short: "Create a psychologist account",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			request := clinic.UserRegistrationRequest{}
			request.FullName, _ = command.Flags().GetString("full_name")
			request.Email, _ = command.Flags().GetString("email")
			request.Password, _ = command.Flags().GetString("password")
			request.CRP, _ = command.Flags().GetString("crp")
			request.CPF, _ = command.Flags().GetString("cpf")
			user, err := activeSession.users.Register(command.Context(), request)
			if err != nil {
				return err
			}
			return writeJSON(command, user)
		}),
	}
	command.Flags().String("full_name", "", "Full name")
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Password (8+ characters with lower, upper, digit, and one of @$!%*?&)")
	command.Flags().String("crp", "", "Professional registration number")
	command.Flags().String("cpf", "", "CPF, with or without mask")
	return command
}

func newPatientsCommand() *cobra.Command {
	patientsCmd := &cobra.Command{
		Use:   "patients",
		Short: "List and register patients",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the signed-in psychologist's patients",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			patients, err := activeSession.patients.List(command.Context())
			if err != nil {
				return err
			}
			return writeJSON(command, patients)
		}),
	}
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a patient from an intake form JSON file",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			ctx := command.Context()
			formPath, _ := command.Flags().GetString("form")
			if strings.TrimSpace(formPath) == "" {
				return errMissingFormFile
			}
			contents, err := os.ReadFile(formPath)
			if err != nil {
				return fmt.Errorf("cli.patients.read_form: %w", err)
			}
			var form clinic.PatientFormData
			if err := json.Unmarshal(contents, &form); err != nil {
				return fmt.Errorf("cli.patients.parse_form: %w", err)
			}
			psychologistID, _ := command.Flags().GetString("psychologist_id")
			if strings.TrimSpace(psychologistID) == "" {
				psychologistID = storedUserID(ctx, activeSession.store)
			}
			if psychologistID == "" {
				return errMissingPsychologist
			}
			registered, err := activeSession.patients.Register(ctx, clinic.MapFormToRequest(form, psychologistID))
			if err != nil {
				return err
			}
			return writeJSON(command, registered)
		}),
	}
	registerCmd.Flags().String("form", "", "Path to the intake form JSON")
	registerCmd.Flags().String("psychologist_id", "", "Psychologist ID; defaults to the signed-in account")
	patientsCmd.AddCommand(listCmd, registerCmd)
	return patientsCmd
}

// storedUserID reads the user ID from the stored access token without verifying it.
func storedUserID(ctx context.Context, store credentials.Store) string {
	accessToken, err := store.AccessToken(ctx)
	if err != nil {
		return ""
	}
	claims, err := accesstoken.Inspect(accessToken)
	if err != nil {
		return ""
	}
	return claims.GetUserID()
}

func newSessionsCommand() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse open slots and book therapy sessions",
	}
	slotsCmd := &cobra.Command{
		Use:   "slots",
		Short: "List open time slots",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			slots, err := activeSession.schedule.AvailableSlots(command.Context())
			if err != nil {
				return err
			}
			return writeJSON(command, slots)
		}),
	}
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Book a session for a patient",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			request := clinic.ScheduleSessionRequest{}
			request.PatientID, _ = command.Flags().GetString("patient_id")
			request.ScheduledDateTime, _ = command.Flags().GetString("at")
			request.DurationMinutes, _ = command.Flags().GetInt("duration")
			sessionType, _ := command.Flags().GetString("type")
			request.Type = clinic.SessionType(strings.ToUpper(strings.TrimSpace(sessionType)))
			request.Notes, _ = command.Flags().GetString("notes")
			request.IsRecurring, _ = command.Flags().GetBool("recurring")
			scheduled, err := activeSession.schedule.Schedule(command.Context(), request)
			if err != nil {
				return err
			}
			return writeJSON(command, scheduled)
		}),
	}
	scheduleCmd.Flags().String("patient_id", "", "Patient ID")
	scheduleCmd.Flags().String("at", "", "Start time, RFC 3339")
	scheduleCmd.Flags().Int("duration", 50, "Duration in minutes")
	scheduleCmd.Flags().String("type", string(clinic.SessionInPerson), "IN_PERSON or ONLINE")
	scheduleCmd.Flags().String("notes", "", "Session notes")
	scheduleCmd.Flags().Bool("recurring", false, "Repeat weekly")
	sessionsCmd.AddCommand(slotsCmd, scheduleCmd)
	return sessionsCmd
}

func newDashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize patients and open slots",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			dashboard, err := clinic.BuildDashboard(command.Context(), activeSession.patients, activeSession.schedule)
			if err != nil {
				return err
			}
			return writeJSON(command, dashboard)
		}),
	}
}

func newPingCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "ping",
		Short: "Check that the practice API answers its health endpoint",
		RunE: runWithSession(func(command *cobra.Command, activeSession *session) error {
			wait, _ := command.Flags().GetDuration("wait")
			if err := waitForHealthy(command.Context(), activeSession.client, wait, activeSession.logger); err != nil {
				return err
			}
			return writeJSON(command, map[string]string{"status": "ok"})
		}),
	}
	command.Flags().Duration("wait", 0, "Keep retrying with exponential backoff for up to this long")
	return command
}

// waitForHealthy polls the health endpoint until it answers or wait elapses. Only transport
// failures and server errors are retried.
func waitForHealthy(ctx context.Context, client *gateway.Client, wait time.Duration, logger *zap.Logger) error {
	if wait <= 0 {
		_, err := client.Get(ctx, healthPath)
		return err
	}
	operation := func() error {
		_, err := client.Get(ctx, healthPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, gateway.ErrTransport) || errors.Is(err, gateway.ErrServer) {
			logger.Debug("health check failed", zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = wait
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
