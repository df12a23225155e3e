package clinic

import (
	"errors"
	"testing"
)

func TestIsValidCPF(t *testing.T) {
	testCases := []struct {
		cpf   string
		valid bool
	}{
		{cpf: "529.982.247-25", valid: true},
		{cpf: "52998224725", valid: true},
		{cpf: "111.444.777-35", valid: true},
		{cpf: "529.982.247-26", valid: false},
		{cpf: "111.111.111-11", valid: false},
		{cpf: "1234567890", valid: false},
		{cpf: "", valid: false},
	}
	for _, testCase := range testCases {
		if got := IsValidCPF(testCase.cpf); got != testCase.valid {
			t.Fatalf("IsValidCPF(%q) = %v, want %v", testCase.cpf, got, testCase.valid)
		}
	}
	if RemoveCPFMask("529.982.247-25") != "52998224725" {
		t.Fatalf("expected mask to be removed")
	}
}

func TestPasswordPolicy(t *testing.T) {
	testCases := []struct {
		password string
		score    int
	}{
		{password: "", score: 0},
		{password: "abc", score: 1},
		{password: "abcdefgh", score: 2},
		{password: "Abcdefgh", score: 3},
		{password: "Abcdefg1", score: 4},
		{password: "Abcdef1!", score: 5},
		{password: "Abcdef1#", score: 4},
		{password: "Aé1@xyz", score: 4},
		{password: "ÉÉÉÉ1@ab", score: 4},
		{password: "ñÑ1@ABCD", score: 4},
		{password: "ÀÀÀÀÀÀÀ", score: 0},
		{password: "١٢٣Abc@xyz", score: 4},
	}
	for _, testCase := range testCases {
		if got := PasswordScore(testCase.password); got != testCase.score {
			t.Fatalf("PasswordScore(%q) = %d, want %d", testCase.password, got, testCase.score)
		}
	}
	if !IsStrongPassword("Secure@123") || IsStrongPassword("secure@123") {
		t.Fatalf("unexpected password strength classification")
	}
	for _, password := range []string{"Aé1@xyz", "ÉÉÉÉ1@ab", "ñÑ1@ABCD"} {
		if IsStrongPassword(password) {
			t.Fatalf("expected %q to be rejected", password)
		}
	}
}

func TestValidateReportsFieldsByJSONName(t *testing.T) {
	err := Validate(UserRegistrationRequest{
		FullName: "Al",
		Email:    "not-an-email",
		Password: "Secure@123",
		CRP:      "06/1",
		CPF:      "52998224725",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	var validationError *ValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	rules := map[string]string{}
	for _, field := range validationError.Fields {
		rules[field.Field] = field.Rule
	}
	if rules["fullName"] != "min" || rules["email"] != "email" || len(rules) != 2 {
		t.Fatalf("unexpected field errors %v", rules)
	}

	nested := Validate(PatientRegistrationRequest{
		PsychologistID: "p-1",
		Identification: PatientIdentification{FullName: "Bruno", BirthDate: "12/04/1990", Gender: "M", CPF: "123"},
		Billing:        PatientBilling{DueDay: 15},
	})
	if !errors.As(nested, &validationError) {
		t.Fatalf("expected nested validation error, got %v", nested)
	}
	rules = map[string]string{}
	for _, field := range validationError.Fields {
		rules[field.Field] = field.Rule
	}
	if rules["identification.birthDate"] != "datetime" || rules["identification.cpf"] != "cpf" {
		t.Fatalf("unexpected nested field errors %v", rules)
	}
}

func TestValidateScheduleRequest(t *testing.T) {
	valid := ScheduleSessionRequest{
		PatientID:         "p-1",
		ScheduledDateTime: "2026-10-19T09:00:00-03:00",
		DurationMinutes:   50,
		Type:              SessionInPerson,
	}
	if err := Validate(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	invalid := valid
	invalid.Type = "PHONE"
	invalid.DurationMinutes = 0
	if err := Validate(invalid); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
