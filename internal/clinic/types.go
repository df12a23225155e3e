package clinic

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the credential pair issued on login.
type LoginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *UserSummary `json:"user,omitempty"`
}

// LogoutRequest lets the API revoke the refresh token being discarded.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// UserRegistrationRequest is the body of POST /users.
type UserRegistrationRequest struct {
	FullName string `json:"fullName" validate:"required,min=3"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
	CRP      string `json:"crp" validate:"required"`
	CPF      string `json:"cpf" validate:"required,cpf"`
}

// UserSummary describes a registered psychologist.
type UserSummary struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	CRP      string `json:"crp"`
}

// Patient is an entry of GET /patients.
type Patient struct {
	ID             string `json:"id"`
	PsychologistID string `json:"psychologistId"`
	FullName       string `json:"fullName"`
	SocialName     string `json:"socialName,omitempty"`
	BirthDate      string `json:"birthDate"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// PatientIdentification holds the identification section of a patient registration.
type PatientIdentification struct {
	FullName      string `json:"fullName" validate:"required"`
	SocialName    string `json:"socialName,omitempty"`
	BirthDate     string `json:"birthDate" validate:"required,datetime=2006-01-02"`
	Gender        string `json:"gender" validate:"required"`
	MaritalStatus string `json:"maritalStatus,omitempty"`
	CPF           string `json:"cpf" validate:"omitempty,cpf"`
	Over18        bool   `json:"over18"`
}

// PatientContact holds contact details.
type PatientContact struct {
	Email                  string `json:"email" validate:"omitempty,email"`
	Phone                  string `json:"phone"`
	Address                string `json:"address"`
	PreferredContactMethod string `json:"preferredContactMethod"`
}

// PatientEmergencyContact holds the emergency contact.
type PatientEmergencyContact struct {
	EmergencyContactName         string `json:"emergencyContactName"`
	EmergencyContactRelationship string `json:"emergencyContactRelationship"`
	EmergencyContactPhone        string `json:"emergencyContactPhone"`
}

// PatientClinical holds the clinical intake.
type PatientClinical struct {
	InitialComplaint          string `json:"initialComplaint"`
	CurrentMedications        string `json:"currentMedications"`
	HasPsychiatricFollowUp    bool   `json:"hasPsychiatricFollowUp"`
	PreferredPeriods          string `json:"preferredPeriods"`
	CurrentPhysicianName      string `json:"currentPhysicianName,omitempty"`
	CurrentPhysicianSpecialty string `json:"currentPhysicianSpecialty,omitempty"`
	CurrentPhysicianPhone     string `json:"currentPhysicianPhone,omitempty"`
}

// PatientBilling holds payment terms.
type PatientBilling struct {
	PaymentMethod    string  `json:"paymentMethod"`
	ReceiptDocument  string  `json:"receiptDocument"`
	DueDay           int     `json:"dueDay" validate:"min=1,max=31"`
	SessionPrice     float64 `json:"sessionPrice" validate:"gte=0"`
	SessionsPerMonth int     `json:"sessionsPerMonth" validate:"gte=0"`
}

// PatientInsurance holds health-plan details.
type PatientInsurance struct {
	HasInsurance        bool   `json:"hasInsurance"`
	InsurancePlan       string `json:"insurancePlan,omitempty"`
	InsuranceCardNumber string `json:"insuranceCardNumber,omitempty"`
}

// PatientOriginNotes records how the patient arrived and internal notes.
type PatientOriginNotes struct {
	Origin        string `json:"origin"`
	InternalNotes string `json:"internalNotes"`
}

// PatientRegistrationRequest is the body of POST /patients.
type PatientRegistrationRequest struct {
	PsychologistID   string                  `json:"psychologistId" validate:"required"`
	Identification   PatientIdentification   `json:"identification"`
	Contact          PatientContact          `json:"contact"`
	EmergencyContact PatientEmergencyContact `json:"emergencyContact"`
	Clinical         PatientClinical         `json:"clinical"`
	Billing          PatientBilling          `json:"billing"`
	Insurance        PatientInsurance        `json:"insurance"`
	OriginNotes      PatientOriginNotes      `json:"originNotes"`
}

// PatientRegistrationResponse is returned by POST /patients.
type PatientRegistrationResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// TimeSlot is a bookable interval within a day.
type TimeSlot struct {
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	DurationMinutes int    `json:"durationMinutes"`
}

// AvailableSlot groups the open time slots of one date.
type AvailableSlot struct {
	Date      string     `json:"date"`
	TimeSlots []TimeSlot `json:"timeSlots"`
}

// SessionType is the modality of a therapy session.
type SessionType string

const (
	// SessionInPerson is a session held at the practice.
	SessionInPerson SessionType = "IN_PERSON"
	// SessionOnline is a remote session.
	SessionOnline SessionType = "ONLINE"
)

// ScheduleSessionRequest is the body of POST /sessions.
type ScheduleSessionRequest struct {
	PatientID         string      `json:"patientId" validate:"required"`
	ScheduledDateTime string      `json:"scheduledDateTime" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	DurationMinutes   int         `json:"durationMinutes" validate:"gt=0,lte=240"`
	Type              SessionType `json:"type" validate:"required,oneof=IN_PERSON ONLINE"`
	Notes             string      `json:"notes,omitempty"`
	IsRecurring       bool        `json:"isRecurring"`
}

// ScheduleSessionResponse is returned by POST /sessions.
type ScheduleSessionResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Success bool   `json:"success,omitempty"`
}
