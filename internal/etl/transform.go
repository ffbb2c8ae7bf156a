// Package etl composes the boundary packages into the orchestrator's feed:
// extract the index file, derive identifiers, enrich against SPOR, collect
// documents, and emit table batches for bulk loading.
package etl

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/epar-io/eparload/internal/epar"
	"github.com/epar-io/eparload/internal/extract"
	"github.com/epar-io/eparload/internal/spor"
)

// eparIDLength truncates the derived identifier to a stable prefix.
const eparIDLength = 20

// ErrUnusableRecord marks rows that cannot form a stable identifier. They
// are skipped, not fatal.
var ErrUnusableRecord = errors.New("record is missing medicine name or holder")

// DeriveEparID builds the synthetic natural key from the medicine and
// marketing authorization holder names. The source file carries no stable
// identifier of its own, so the key is a content hash: the same pair always
// yields the same id across runs.
func DeriveEparID(medicineName, mahName string) (string, error) {
	if medicineName == "" || mahName == "" {
		return "", ErrUnusableRecord
	}

	sum := sha1.Sum([]byte(medicineName + "-" + mahName))

	return hex.EncodeToString(sum[:])[:eparIDLength], nil
}

// Enriched is one transformed record with the master data and links its
// enrichment produced.
type Enriched struct {
	Epar          *epar.Epar
	Organizations []*epar.Organization
	Substances    []*epar.Substance
	Links         []*epar.SubstanceLink
}

// Transformer turns raw extracted records into enriched domain records.
// SPOR failures degrade to un-enriched output; only identifier derivation
// can reject a record.
type Transformer struct {
	client *spor.Client
	logger *slog.Logger
}

// NewTransformer creates a transformer. A nil client disables enrichment
// entirely, which is valid for air-gapped loads.
func NewTransformer(client *spor.Client, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Transformer{client: client, logger: logger}
}

// Transform converts one raw record. cache is the run-scoped SPOR cache;
// now stamps LoadedAt and the master data timestamps.
func (t *Transformer) Transform(ctx context.Context, cache *spor.Cache, record *extract.Record, now time.Time) (*Enriched, error) {
	eparID, err := DeriveEparID(record.MedicineName, record.MAHRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: medicine %q", err, record.MedicineName)
	}

	result := &Enriched{
		Epar: &epar.Epar{
			EparID:                 eparID,
			MedicineName:           record.MedicineName,
			AuthorizationStatus:    record.AuthorizationStatus,
			FirstAuthorizationDate: record.FirstAuthorizationDate,
			WithdrawalDate:         record.WithdrawalDate,
			LastUpdated:            record.LastUpdated,
			ActiveSubstanceRaw:     record.ActiveSubstanceRaw,
			MAHRaw:                 record.MAHRaw,
			TherapeuticArea:        record.TherapeuticArea,
			SourceURL:              record.SourceURL,
			IsActive:               true,
			LoadedAt:               now,
		},
	}

	if err := result.Epar.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnusableRecord, err)
	}

	if t.client == nil {
		return result, nil
	}

	t.enrichOrganisation(ctx, cache, record, result, now)
	t.enrichSubstances(ctx, cache, record, result, now)

	return result, nil
}

func (t *Transformer) enrichOrganisation(ctx context.Context, cache *spor.Cache, record *extract.Record, result *Enriched, now time.Time) {
	org, err := t.client.SearchOrganisation(ctx, cache, record.MAHRaw)
	if err != nil {
		t.logger.Warn("organisation enrichment degraded",
			slog.String("epar_id", result.Epar.EparID),
			slog.Any("error", err),
		)

		return
	}

	if org == nil {
		return
	}

	result.Epar.MAHOrganizationID = org.OMSID
	result.Organizations = append(result.Organizations, &epar.Organization{
		OMSID:       org.OMSID,
		Name:        org.Name,
		CountryCode: org.CountryCode,
		LastUpdated: now,
	})
}

func (t *Transformer) enrichSubstances(ctx context.Context, cache *spor.Cache, record *extract.Record, result *Enriched, now time.Time) {
	for _, name := range strings.Split(record.ActiveSubstanceRaw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		sub, err := t.client.SearchSubstance(ctx, cache, name)
		if err != nil {
			t.logger.Warn("substance enrichment degraded",
				slog.String("epar_id", result.Epar.EparID),
				slog.String("substance", name),
				slog.Any("error", err),
			)

			continue
		}

		if sub == nil {
			continue
		}

		result.Substances = append(result.Substances, &epar.Substance{
			SubstanceID: sub.SMSID,
			Name:        sub.Name,
			LastUpdated: now,
		})

		result.Links = append(result.Links, &epar.SubstanceLink{
			EparID:      result.Epar.EparID,
			SubstanceID: sub.SMSID,
		})
	}
}
