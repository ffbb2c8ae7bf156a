package etl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epar-io/eparload/internal/extract"
	"github.com/epar-io/eparload/internal/spor"
)

func TestDeriveEparID(t *testing.T) {
	id, err := DeriveEparID("Abilify", "Otsuka")
	require.NoError(t, err)
	assert.Len(t, id, eparIDLength)

	// Stable across calls.
	again, err := DeriveEparID("Abilify", "Otsuka")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// Distinct inputs give distinct identifiers.
	other, err := DeriveEparID("Abilify", "Someone Else")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestDeriveEparIDRejectsIncompleteNames(t *testing.T) {
	_, err := DeriveEparID("", "Otsuka")
	assert.ErrorIs(t, err, ErrUnusableRecord)

	_, err = DeriveEparID("Abilify", "")
	assert.ErrorIs(t, err, ErrUnusableRecord)
}

func TestTransformWithoutEnrichment(t *testing.T) {
	transformer := NewTransformer(nil, nil)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	record := &extract.Record{
		MedicineName:        "Abilify",
		AuthorizationStatus: "Authorised",
		ActiveSubstanceRaw:  "aripiprazole",
		MAHRaw:              "Otsuka",
		SourceURL:           "https://example.org/epar/abilify",
		LastUpdated:         time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
	}

	enriched, err := transformer.Transform(context.Background(), spor.NewCache(), record, now)
	require.NoError(t, err)

	assert.Len(t, enriched.Epar.EparID, eparIDLength)
	assert.Equal(t, "Abilify", enriched.Epar.MedicineName)
	assert.True(t, enriched.Epar.IsActive)
	assert.Equal(t, now, enriched.Epar.LoadedAt)
	assert.Empty(t, enriched.Epar.MAHOrganizationID)
	assert.Empty(t, enriched.Organizations)
	assert.Empty(t, enriched.Substances)
	assert.Empty(t, enriched.Links)
}

func TestTransformRejectsUnusableRecords(t *testing.T) {
	transformer := NewTransformer(nil, nil)

	_, err := transformer.Transform(context.Background(), spor.NewCache(), &extract.Record{
		MedicineName: "No Holder",
		LastUpdated:  time.Now(),
	}, time.Now())
	require.ErrorIs(t, err, ErrUnusableRecord)
}
