package models

import (
	"database/sql/driver"
	"fmt"
)

// PublicationStatus is the closed set of publication states of a thesis. The
// zero value is the initial state.
type PublicationStatus int

const (
	PublicationStatusNotReady PublicationStatus = iota
	PublicationStatusReview
	PublicationStatusReady
	PublicationStatusPending
	PublicationStatusPublished
	PublicationStatusError
)

// AllPublicationStatuses lists every status in lifecycle order.
var AllPublicationStatuses = []PublicationStatus{
	PublicationStatusNotReady,
	PublicationStatusReview,
	PublicationStatusReady,
	PublicationStatusPending,
	PublicationStatusPublished,
	PublicationStatusError,
}

func (s PublicationStatus) String() string {
	switch s {
	case PublicationStatusNotReady:
		return "Not ready for publication"
	case PublicationStatusReview:
		return "Publication review"
	case PublicationStatusReady:
		return "Ready for publication"
	case PublicationStatusPending:
		return "Pending publication"
	case PublicationStatusPublished:
		return "Published"
	case PublicationStatusError:
		return "Publication error"
	}
	return fmt.Sprintf("PublicationStatus(%d)", int(s))
}

// ParsePublicationStatus maps a stored label back to its status.
func ParsePublicationStatus(label string) (PublicationStatus, error) {
	for _, s := range AllPublicationStatuses {
		if s.String() == label {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown publication status %q", label)
}

// PipelineOwned reports whether the status is driven by the publication
// pipeline rather than editorial review.
func (s PublicationStatus) PipelineOwned() bool {
	switch s {
	case PublicationStatusPending, PublicationStatusPublished, PublicationStatusError:
		return true
	case PublicationStatusNotReady, PublicationStatusReview, PublicationStatusReady:
		return false
	}
	return false
}

// Value stores the label.
func (s PublicationStatus) Value() (driver.Value, error) {
	if _, err := ParsePublicationStatus(s.String()); err != nil {
		return nil, err
	}
	return s.String(), nil
}

// Scan reads a stored label.
func (s *PublicationStatus) Scan(src interface{}) error {
	label, err := scanLabel(src)
	if err != nil {
		return fmt.Errorf("scan publication status: %w", err)
	}
	parsed, err := ParsePublicationStatus(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s PublicationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PublicationStatus) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicationStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ProquestExported records whether and how a thesis went to ProQuest.
type ProquestExported int

const (
	ProquestNotExported ProquestExported = iota
	ProquestPartialHarvest
	ProquestFullHarvest
)

func (p ProquestExported) String() string {
	switch p {
	case ProquestNotExported:
		return "Not exported"
	case ProquestPartialHarvest:
		return "Partial harvest"
	case ProquestFullHarvest:
		return "Full harvest"
	}
	return fmt.Sprintf("ProquestExported(%d)", int(p))
}

// ParseProquestExported maps a stored label back to its value.
func ParseProquestExported(label string) (ProquestExported, error) {
	switch label {
	case "Not exported":
		return ProquestNotExported, nil
	case "Partial harvest":
		return ProquestPartialHarvest, nil
	case "Full harvest":
		return ProquestFullHarvest, nil
	}
	return 0, fmt.Errorf("unknown proquest export state %q", label)
}

// Value stores the label.
func (p ProquestExported) Value() (driver.Value, error) {
	if _, err := ParseProquestExported(p.String()); err != nil {
		return nil, err
	}
	return p.String(), nil
}

// Scan reads a stored label.
func (p *ProquestExported) Scan(src interface{}) error {
	label, err := scanLabel(src)
	if err != nil {
		return fmt.Errorf("scan proquest export state: %w", err)
	}
	parsed, err := ParseProquestExported(label)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p ProquestExported) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ProquestExported) UnmarshalText(text []byte) error {
	parsed, err := ParseProquestExported(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PreservationStatus of one packaging attempt.
type PreservationStatus int

const (
	PreservationUnpreserved PreservationStatus = iota
	PreservationPreserved
)

func (p PreservationStatus) String() string {
	switch p {
	case PreservationUnpreserved:
		return "unpreserved"
	case PreservationPreserved:
		return "preserved"
	}
	return fmt.Sprintf("PreservationStatus(%d)", int(p))
}

// ParsePreservationStatus maps a stored label back to its value.
func ParsePreservationStatus(label string) (PreservationStatus, error) {
	switch label {
	case "unpreserved":
		return PreservationUnpreserved, nil
	case "preserved":
		return PreservationPreserved, nil
	}
	return 0, fmt.Errorf("unknown preservation status %q", label)
}

// Value stores the label.
func (p PreservationStatus) Value() (driver.Value, error) {
	if _, err := ParsePreservationStatus(p.String()); err != nil {
		return nil, err
	}
	return p.String(), nil
}

// Scan reads a stored label.
func (p *PreservationStatus) Scan(src interface{}) error {
	label, err := scanLabel(src)
	if err != nil {
		return fmt.Errorf("scan preservation status: %w", err)
	}
	parsed, err := ParsePreservationStatus(label)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p PreservationStatus) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PreservationStatus) UnmarshalText(text []byte) error {
	parsed, err := ParsePreservationStatus(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func scanLabel(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("null label")
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}
