package sandbox

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/clinicgate/internal/clinic"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailTaken indicates a user with the same email already exists.
	ErrEmailTaken = errors.New("sandbox.users.email_taken")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("sandbox.users.invalid_credentials")
	// ErrUserNotFound indicates no user has the given id.
	ErrUserNotFound = errors.New("sandbox.users.not_found")
	// ErrPatientNotFound indicates the patient does not belong to the psychologist.
	ErrPatientNotFound = errors.New("sandbox.patients.not_found")
	// ErrSlotTaken indicates the requested start time is already booked.
	ErrSlotTaken = errors.New("sandbox.sessions.slot_taken")
)

type userRecord struct {
	summary      clinic.UserSummary
	passwordHash []byte
}

type sessionRecord struct {
	id             string
	psychologistID string
	request        clinic.ScheduleSessionRequest
	startsAt       time.Time
}

// Directory holds sandbox users, patients, and booked sessions in memory.
type Directory struct {
	mutex      sync.RWMutex
	usersByID  map[string]*userRecord
	idsByEmail map[string]string
	patients   map[string][]clinic.Patient
	sessions   []sessionRecord
	hashCost   int
}

// NewDirectory constructs an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		usersByID:  make(map[string]*userRecord),
		idsByEmail: make(map[string]string),
		patients:   make(map[string][]clinic.Patient),
		hashCost:   bcrypt.DefaultCost,
	}
}

// RegisterUser stores a psychologist with a bcrypt password hash.
func (directory *Directory) RegisterUser(ctx context.Context, request clinic.UserRegistrationRequest) (clinic.UserSummary, error) {
	emailKey := strings.ToLower(strings.TrimSpace(request.Email))
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(request.Password), directory.hashCost)
	if hashErr != nil {
		return clinic.UserSummary{}, hashErr
	}

	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	if _, exists := directory.idsByEmail[emailKey]; exists {
		return clinic.UserSummary{}, ErrEmailTaken
	}
	summary := clinic.UserSummary{
		ID:       uuid.NewString(),
		FullName: strings.TrimSpace(request.FullName),
		Email:    emailKey,
		CRP:      strings.TrimSpace(request.CRP),
	}
	directory.usersByID[summary.ID] = &userRecord{summary: summary, passwordHash: passwordHash}
	directory.idsByEmail[emailKey] = summary.ID
	return summary, nil
}

// Authenticate checks an email and password pair.
func (directory *Directory) Authenticate(ctx context.Context, email string, password string) (clinic.UserSummary, error) {
	directory.mutex.RLock()
	userID, exists := directory.idsByEmail[strings.ToLower(strings.TrimSpace(email))]
	record := directory.usersByID[userID]
	directory.mutex.RUnlock()
	if !exists || record == nil {
		return clinic.UserSummary{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)) != nil {
		return clinic.UserSummary{}, ErrInvalidCredentials
	}
	return record.summary, nil
}

// User returns the psychologist with the given id.
func (directory *Directory) User(ctx context.Context, userID string) (clinic.UserSummary, error) {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	record := directory.usersByID[userID]
	if record == nil {
		return clinic.UserSummary{}, ErrUserNotFound
	}
	return record.summary, nil
}

// AddPatient stores a patient under the psychologist.
func (directory *Directory) AddPatient(ctx context.Context, psychologistID string, request clinic.PatientRegistrationRequest, now time.Time) clinic.Patient {
	patient := clinic.Patient{
		ID:             uuid.NewString(),
		PsychologistID: psychologistID,
		FullName:       request.Identification.FullName,
		SocialName:     request.Identification.SocialName,
		BirthDate:      request.Identification.BirthDate,
		Email:          request.Contact.Email,
		Phone:          request.Contact.Phone,
		CreatedAt:      now.UTC().Format(time.RFC3339),
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	directory.patients[psychologistID] = append(directory.patients[psychologistID], patient)
	return patient
}

// Patients lists a psychologist's patients by name.
func (directory *Directory) Patients(ctx context.Context, psychologistID string) []clinic.Patient {
	directory.mutex.RLock()
	patients := append([]clinic.Patient{}, directory.patients[psychologistID]...)
	directory.mutex.RUnlock()
	sort.SliceStable(patients, func(left, right int) bool {
		return patients[left].FullName < patients[right].FullName
	})
	return patients
}

// BookSession reserves a start time for one of the psychologist's patients.
func (directory *Directory) BookSession(ctx context.Context, psychologistID string, request clinic.ScheduleSessionRequest, startsAt time.Time) (string, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	if !directory.ownsPatient(psychologistID, request.PatientID) {
		return "", ErrPatientNotFound
	}
	for _, booked := range directory.sessions {
		if booked.psychologistID == psychologistID && booked.startsAt.Equal(startsAt) {
			return "", ErrSlotTaken
		}
	}
	record := sessionRecord{
		id:             uuid.NewString(),
		psychologistID: psychologistID,
		request:        request,
		startsAt:       startsAt,
	}
	directory.sessions = append(directory.sessions, record)
	return record.id, nil
}

// BookedStarts returns the start times already reserved by the psychologist.
func (directory *Directory) BookedStarts(ctx context.Context, psychologistID string) map[time.Time]struct{} {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	booked := make(map[time.Time]struct{})
	for _, session := range directory.sessions {
		if session.psychologistID == psychologistID {
			booked[session.startsAt.UTC()] = struct{}{}
		}
	}
	return booked
}

func (directory *Directory) ownsPatient(psychologistID string, patientID string) bool {
	for _, patient := range directory.patients[psychologistID] {
		if patient.ID == patientID {
			return true
		}
	}
	return false
}
