package enums

import "fmt"

// Trimester maps to the trimester enum in Postgres.
type Trimester string

const (
	TrimesterOne   Trimester = "T1"
	TrimesterTwo   Trimester = "T2"
	TrimesterThree Trimester = "T3"
)

var validTrimesters = []Trimester{TrimesterOne, TrimesterTwo, TrimesterThree}

// IsValid checks whether the given trimester matches the canonical enum.
func (t Trimester) IsValid() bool {
	for _, candidate := range validTrimesters {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTrimester converts raw strings into Trimester.
func ParseTrimester(value string) (Trimester, error) {
	for _, candidate := range validTrimesters {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid trimester %q", value)
}

// Intake maps to the intake enum in Postgres.
type Intake string

const (
	IntakeHT1      Intake = "HT1"
	IntakeHT2      Intake = "HT2"
	IntakeFullTime Intake = "FT"
)

var validIntakes = []Intake{IntakeHT1, IntakeHT2, IntakeFullTime}

// IsValid checks whether the given intake matches the canonical enum.
func (i Intake) IsValid() bool {
	for _, candidate := range validIntakes {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseIntake converts raw strings into Intake.
func ParseIntake(value string) (Intake, error) {
	for _, candidate := range validIntakes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intake %q", value)
}
