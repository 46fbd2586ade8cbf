package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "vericrop/pkg/domain-errors"
)

// Typed identifiers keep claim, certificate and loan ids from being mixed up
// at compile time. Construct them via the Parse functions at trust boundaries.
type (
	ClaimID       uuid.UUID
	CertificateID uuid.UUID
	LoanID        uuid.UUID
)

// FarmerID is issued by the ingesting collaborator and is opaque to the engine.
type FarmerID string

const maxFarmerIDLength = 64

func NewClaimID() ClaimID { return ClaimID(uuid.New()) }
func NewLoanID() LoanID   { return LoanID(uuid.New()) }

func (id ClaimID) String() string       { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id LoanID) String() string        { return uuid.UUID(id).String() }
func (id FarmerID) String() string      { return string(id) }

func (id ClaimID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id LoanID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }

// certificateNamespace scopes certificate ids derived from claim ids.
var certificateNamespace = uuid.MustParse("5f0c55b2-8f0e-4b8e-9a43-2a7c1d9e6b10")

// CertificateIDFor derives the certificate id for a claim. At most one
// certificate exists per claim, so the id is a pure function of the claim id.
func CertificateIDFor(claimID ClaimID) CertificateID {
	return CertificateID(uuid.NewSHA1(certificateNamespace, []byte(claimID.String())))
}

func ParseClaimID(s string) (ClaimID, error) {
	u, err := parseUUID("claim_id", s)
	return ClaimID(u), err
}

func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID("certificate_id", s)
	return CertificateID(u), err
}

func ParseLoanID(s string) (LoanID, error) {
	u, err := parseUUID("loan_id", s)
	return LoanID(u), err
}

// ParseFarmerID trims and bounds the external farmer identifier.
func ParseFarmerID(s string) (FarmerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "farmer_id", "is required")
	}
	if len(s) > maxFarmerIDLength {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "farmer_id", "is too long")
	}
	return FarmerID(s), nil
}

func parseUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.NewField(dErrors.CodeInvalidInput, field, "is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.NewField(dErrors.CodeInvalidInput, field, "must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.NewField(dErrors.CodeInvalidInput, field, "cannot be nil")
	}
	return u, nil
}

func (id ClaimID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id CertificateID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id LoanID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }

func (id *ClaimID) UnmarshalText(b []byte) error {
	v, err := ParseClaimID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *CertificateID) UnmarshalText(b []byte) error {
	v, err := ParseCertificateID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *LoanID) UnmarshalText(b []byte) error {
	v, err := ParseLoanID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
