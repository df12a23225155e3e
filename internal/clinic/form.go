package clinic

import (
	"strconv"
	"strings"
)

const (
	defaultPreferredPeriods = "manha,tarde"
	defaultDueDay           = 15
)

// PatientFormData is the multi-step patient intake as collected from an operator.
type PatientFormData struct {
	Identification   IdentificationStep   `json:"identification"`
	Contact          ContactStep          `json:"contact"`
	EmergencyContact EmergencyContactStep `json:"emergencyContact"`
	ClinicalInfo     ClinicalInfoStep     `json:"clinicalInfo"`
	BillingInsurance BillingInsuranceStep `json:"billingInsurance"`
	OriginNotes      OriginNotesStep      `json:"originNotes"`
}

// IdentificationStep holds who the patient is.
type IdentificationStep struct {
	FullName      string `json:"fullName"`
	SocialName    string `json:"socialName,omitempty"`
	BirthDate     string `json:"birthDate"`
	Gender        string `json:"gender"`
	MaritalStatus string `json:"maritalStatus,omitempty"`
	CPF           string `json:"cpf,omitempty"`
	IsOver18      bool   `json:"isOver18"`
}

// ContactStep holds how to reach the patient.
type ContactStep struct {
	Email                  string `json:"email,omitempty"`
	Phone                  string `json:"phone,omitempty"`
	Address                string `json:"address,omitempty"`
	PreferredContactMethod string `json:"preferredContactMethod,omitempty"`
}

// EmergencyContactStep holds the emergency contact.
type EmergencyContactStep struct {
	EmergencyContactName         string `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone        string `json:"emergencyContactPhone,omitempty"`
	EmergencyContactRelationship string `json:"emergencyContactRelationship,omitempty"`
}

// ClinicalInfoStep holds the clinical intake answers.
type ClinicalInfoStep struct {
	MedicalHistory         string `json:"medicalHistory,omitempty"`
	CurrentMedications     string `json:"currentMedications,omitempty"`
	Allergies              string `json:"allergies,omitempty"`
	HasPsychiatricFollowUp bool   `json:"hasPsychiatricFollowUp,omitempty"`
	DoctorName             string `json:"doctorName,omitempty"`
	DoctorSpecialty        string `json:"doctorSpecialty,omitempty"`
	DoctorPhone            string `json:"doctorPhone,omitempty"`
}

// BillingInsuranceStep holds payment and insurance answers. Numbers arrive as typed text.
type BillingInsuranceStep struct {
	InsuranceProvider     string `json:"insuranceProvider,omitempty"`
	InsuranceNumber       string `json:"insuranceNumber,omitempty"`
	HasInsurance          bool   `json:"hasInsurance,omitempty"`
	Document              string `json:"document,omitempty"`
	Value                 string `json:"value,omitempty"`
	TotalSessions         string `json:"totalSessions,omitempty"`
	InsurancePlan         string `json:"insurancePlan,omitempty"`
	InsuranceCard         string `json:"insuranceCard,omitempty"`
	PaymentMethodSelected string `json:"paymentMethodSelected,omitempty"`
}

// OriginNotesStep holds referral source and notes.
type OriginNotesStep struct {
	ReferralSource string `json:"referralSource,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// MapFormToRequest converts intake form data into the POST /patients body.
// Preferred periods and due day are fixed defaults; unparsable numbers become zero.
func MapFormToRequest(form PatientFormData, psychologistID string) PatientRegistrationRequest {
	return PatientRegistrationRequest{
		PsychologistID: psychologistID,
		Identification: PatientIdentification{
			FullName:      form.Identification.FullName,
			SocialName:    form.Identification.SocialName,
			BirthDate:     form.Identification.BirthDate,
			Gender:        form.Identification.Gender,
			MaritalStatus: form.Identification.MaritalStatus,
			CPF:           form.Identification.CPF,
			Over18:        form.Identification.IsOver18,
		},
		Contact: PatientContact{
			Email:                  form.Contact.Email,
			Phone:                  form.Contact.Phone,
			Address:                form.Contact.Address,
			PreferredContactMethod: form.Contact.PreferredContactMethod,
		},
		EmergencyContact: PatientEmergencyContact{
			EmergencyContactName:         form.EmergencyContact.EmergencyContactName,
			EmergencyContactRelationship: form.EmergencyContact.EmergencyContactRelationship,
			EmergencyContactPhone:        form.EmergencyContact.EmergencyContactPhone,
		},
		Clinical: PatientClinical{
			InitialComplaint:          form.ClinicalInfo.MedicalHistory,
			CurrentMedications:        form.ClinicalInfo.CurrentMedications,
			HasPsychiatricFollowUp:    form.ClinicalInfo.HasPsychiatricFollowUp,
			PreferredPeriods:          defaultPreferredPeriods,
			CurrentPhysicianName:      form.ClinicalInfo.DoctorName,
			CurrentPhysicianSpecialty: form.ClinicalInfo.DoctorSpecialty,
			CurrentPhysicianPhone:     form.ClinicalInfo.DoctorPhone,
		},
		Billing: PatientBilling{
			PaymentMethod:    form.BillingInsurance.PaymentMethodSelected,
			ReceiptDocument:  form.BillingInsurance.Document,
			DueDay:           defaultDueDay,
			SessionPrice:     parseLeadingFloat(form.BillingInsurance.Value),
			SessionsPerMonth: parseLeadingInt(form.BillingInsurance.TotalSessions),
		},
		Insurance: PatientInsurance{
			HasInsurance:        form.BillingInsurance.HasInsurance,
			InsurancePlan:       form.BillingInsurance.InsurancePlan,
			InsuranceCardNumber: form.BillingInsurance.InsuranceCard,
		},
		OriginNotes: PatientOriginNotes{
			Origin:        form.OriginNotes.ReferralSource,
			InternalNotes: form.OriginNotes.Notes,
		},
	}
}

// parseLeadingFloat reads the longest numeric prefix, so "150.50 BRL" yields 150.5.
func parseLeadingFloat(text string) float64 {
	trimmed := strings.TrimSpace(text)
	end := 0
	seenDot := false
	for end < len(trimmed) {
		character := trimmed[end]
		if character == '.' && !seenDot {
			seenDot = true
		} else if character < '0' || character > '9' {
			if !(end == 0 && (character == '-' || character == '+')) {
				break
			}
		}
		end++
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(trimmed[:end], "."), 64)
	if err != nil {
		return 0
	}
	return value
}

func parseLeadingInt(text string) int {
	trimmed := strings.TrimSpace(text)
	end := 0
	for end < len(trimmed) {
		character := trimmed[end]
		if character < '0' || character > '9' {
			if !(end == 0 && (character == '-' || character == '+')) {
				break
			}
		}
		end++
	}
	value, err := strconv.Atoi(trimmed[:end])
	if err != nil {
		return 0
	}
	return value
}
