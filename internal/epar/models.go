// Package epar provides the domain model for the EMA EPAR dataset: the
// authorization index, the SPOR-standardized organization and substance
// master data, the links between them, and the document metadata captured
// alongside each authorization.
//
// These are pure domain types. The mapping to bulk-load rows and table
// specifications lives in tables.go; persistence is internal/storage's
// business.
package epar

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for structural validation.
var (
	ErrMissingEparID      = errors.New("epar_id is required")
	ErrMissingLastUpdated = errors.New("source last-update date is required")
	ErrMissingSubstanceID = errors.New("substance id is required")
	ErrMissingOMSID       = errors.New("oms id is required")
	ErrMissingSourceURL   = errors.New("source url is required")
)

// Epar is one row of the authorization index: the target record of a load.
// EparID is the natural key, LastUpdated the change-data-capture marker.
// Withdrawal is represented by IsActive = false, never by deletion.
type Epar struct {
	EparID              string
	MedicineName        string
	AuthorizationStatus string

	FirstAuthorizationDate *time.Time
	WithdrawalDate         *time.Time
	LastUpdated            time.Time

	// Raw source values, kept verbatim for standard representation.
	ActiveSubstanceRaw string
	MAHRaw             string
	TherapeuticArea    string

	// MAHOrganizationID is the enriched SPOR OMS identifier of the
	// marketing authorization holder, empty when enrichment found no
	// high-confidence match.
	MAHOrganizationID string

	SourceURL string

	// Load lineage. IsActive defaults to true on staged rows; ExecutionID
	// is stamped by the orchestrator, LoadedAt by the feed.
	IsActive    bool
	LoadedAt    time.Time
	ExecutionID int64
}

// Validate checks the structural completeness the merge depends on. Field
// types and formats were already validated at the extractor boundary.
func (e *Epar) Validate() error {
	if e.EparID == "" {
		return ErrMissingEparID
	}

	if e.LastUpdated.IsZero() {
		return fmt.Errorf("%w: epar %s", ErrMissingLastUpdated, e.EparID)
	}

	return nil
}

// Organization is SPOR OMS master data: upserted opportunistically during
// enrichment, referenced by Epar records, never owned by them.
type Organization struct {
	OMSID       string
	Name        string
	CountryCode string
	LastUpdated time.Time
}

// Validate checks the merge key.
func (o *Organization) Validate() error {
	if o.OMSID == "" {
		return ErrMissingOMSID
	}

	return nil
}

// Substance is SPOR SMS master data.
type Substance struct {
	SubstanceID string
	Name        string
	LastUpdated time.Time
}

// Validate checks the merge key.
func (s *Substance) Validate() error {
	if s.SubstanceID == "" {
		return ErrMissingSubstanceID
	}

	return nil
}

// SubstanceLink associates one Epar with one Substance. Links are recreated
// wholesale per load for the epars present in the batch.
type SubstanceLink struct {
	EparID      string
	SubstanceID string
}

// Validate checks the composite merge key.
func (l *SubstanceLink) Validate() error {
	if l.EparID == "" {
		return ErrMissingEparID
	}

	if l.SubstanceID == "" {
		return fmt.Errorf("%w: link for epar %s", ErrMissingSubstanceID, l.EparID)
	}

	return nil
}

// Document is metadata about an externally stored artifact tied to an Epar:
// where it came from, where its bytes live, and its integrity hash. One row
// per (epar, source URL) observed; re-observations update hash and
// timestamp.
type Document struct {
	ID              uuid.UUID
	EparID          string
	Type            string
	Language        string
	SourceURL       string
	StorageLocation string
	SHA256          string
	FetchedAt       time.Time
}

// Validate checks the natural key used for idempotent re-observation.
func (d *Document) Validate() error {
	if d.EparID == "" {
		return ErrMissingEparID
	}

	if d.SourceURL == "" {
		return fmt.Errorf("%w: document for epar %s", ErrMissingSourceURL, d.EparID)
	}

	return nil
}
