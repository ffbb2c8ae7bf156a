package epar

import (
	"time"

	"github.com/epar-io/eparload/internal/load"
)

// Target table names.
const (
	TableIndex         = "epar_index"
	TableOrganizations = "organizations"
	TableSubstances    = "substances"
	TableLinks         = "epar_substance_link"
	TableDocuments     = "epar_documents"
)

// Column orders shared by the staging tables and the merge statements.
var (
	indexColumns = []string{
		"epar_id",
		"medicine_name",
		"authorization_status",
		"first_authorization_date",
		"withdrawal_date",
		"last_update_date_source",
		"active_substance_raw",
		"marketing_authorization_holder_raw",
		"therapeutic_area",
		"mah_oms_id",
		"source_url",
		"is_active",
		"etl_load_timestamp",
		"etl_execution_id",
	}

	organizationColumns = []string{"oms_id", "organization_name", "country_code", "last_updated"}

	substanceColumns = []string{"substance_id", "substance_name", "last_updated"}

	linkColumns = []string{"epar_id", "substance_id"}

	documentColumns = []string{
		"document_id",
		"epar_id",
		"document_type",
		"language_code",
		"source_url",
		"storage_location",
		"file_hash",
		"download_timestamp",
	}
)

// IndexSpec describes the primary target table. It is the only table that
// soft-deletes: a FULL run deactivates active rows absent from its snapshot.
func IndexSpec() load.TableSpec {
	return load.TableSpec{
		Table:               TableIndex,
		Columns:             indexColumns,
		KeyColumns:          []string{"epar_id"},
		CDCColumn:           "last_update_date_source",
		SoftDeleteColumn:    "is_active",
		ExecutionIDColumn:   "etl_execution_id",
		LoadTimestampColumn: "etl_load_timestamp",
		Primary:             true,
	}
}

// OrganizationsSpec describes the organization master-data table.
func OrganizationsSpec() load.TableSpec {
	return load.TableSpec{
		Table:      TableOrganizations,
		Columns:    organizationColumns,
		KeyColumns: []string{"oms_id"},
		CDCColumn:  "last_updated",
	}
}

// SubstancesSpec describes the substance master-data table.
func SubstancesSpec() load.TableSpec {
	return load.TableSpec{
		Table:      TableSubstances,
		Columns:    substanceColumns,
		KeyColumns: []string{"substance_id"},
		CDCColumn:  "last_updated",
	}
}

// LinksSpec describes the epar/substance association table. Links are
// refreshed wholesale per epar present in the batch.
func LinksSpec() load.TableSpec {
	return load.TableSpec{
		Table:            TableLinks,
		Columns:          linkColumns,
		KeyColumns:       []string{"epar_id", "substance_id"},
		RefreshKeyColumn: "epar_id",
	}
}

// DocumentsSpec describes the document metadata table. The natural key is
// (epar, source URL) so a re-downloaded artifact updates its hash and fetch
// timestamp instead of accumulating rows.
func DocumentsSpec() load.TableSpec {
	return load.TableSpec{
		Table:      TableDocuments,
		Columns:    documentColumns,
		KeyColumns: []string{"epar_id", "source_url"},
		CDCColumn:  "download_timestamp",
	}
}

// Row maps an Epar to its bulk-load row.
func (e *Epar) Row() load.Row {
	return load.Row{
		"epar_id":                            e.EparID,
		"medicine_name":                      e.MedicineName,
		"authorization_status":               e.AuthorizationStatus,
		"first_authorization_date":           nullTime(e.FirstAuthorizationDate),
		"withdrawal_date":                    nullTime(e.WithdrawalDate),
		"last_update_date_source":            e.LastUpdated,
		"active_substance_raw":               nullString(e.ActiveSubstanceRaw),
		"marketing_authorization_holder_raw": nullString(e.MAHRaw),
		"therapeutic_area":                   nullString(e.TherapeuticArea),
		"mah_oms_id":                         nullString(e.MAHOrganizationID),
		"source_url":                         nullString(e.SourceURL),
		"is_active":                          e.IsActive,
		"etl_load_timestamp":                 e.LoadedAt,
		"etl_execution_id":                   e.ExecutionID,
	}
}

// Row maps an Organization to its bulk-load row.
func (o *Organization) Row() load.Row {
	return load.Row{
		"oms_id":            o.OMSID,
		"organization_name": o.Name,
		"country_code":      nullString(o.CountryCode),
		"last_updated":      o.LastUpdated,
	}
}

// Row maps a Substance to its bulk-load row.
func (s *Substance) Row() load.Row {
	return load.Row{
		"substance_id":   s.SubstanceID,
		"substance_name": s.Name,
		"last_updated":   s.LastUpdated,
	}
}

// Row maps a SubstanceLink to its bulk-load row.
func (l *SubstanceLink) Row() load.Row {
	return load.Row{
		"epar_id":      l.EparID,
		"substance_id": l.SubstanceID,
	}
}

// Row maps a Document to its bulk-load row.
func (d *Document) Row() load.Row {
	return load.Row{
		"document_id":        d.ID.String(),
		"epar_id":            d.EparID,
		"document_type":      nullString(d.Type),
		"language_code":      nullString(d.Language),
		"source_url":         d.SourceURL,
		"storage_location":   nullString(d.StorageLocation),
		"file_hash":          nullString(d.SHA256),
		"download_timestamp": d.FetchedAt,
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}
