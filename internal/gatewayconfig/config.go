// Package gatewayconfig reads the per-gateway file layout and
// classification parameters. The configuration rows are owned by an
// external CRUD collaborator; the engine only reads them, once per run.
package gatewayconfig

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"payment-reconciliation-engine/pkg/errors"
)

// ConfigType distinguishes external from internal gateway-file layouts.
type ConfigType string

const (
	TypeExternal ConfigType = "external"
	TypeInternal ConfigType = "internal"
)

// Canonical column roles used by the normalizer.
const (
	ColumnDate      = "date"
	ColumnReference = "reference"
	ColumnDetails   = "details"
	ColumnDebit     = "debit"
	ColumnCredit    = "credit"
	ColumnStatus    = "status"
	ColumnRemark    = "remark"
)

// GatewayFileConfig describes how one gateway side's uploads are laid out
// and classified.
type GatewayFileConfig struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	Name       string     `json:"name" gorm:"size:64;not null;uniqueIndex"`
	ConfigType ConfigType `json:"config_type" gorm:"size:16;not null"`

	FilenamePrefix    string            `json:"filename_prefix" gorm:"size:64"`
	ExpectedFiletypes []string          `json:"expected_filetypes" gorm:"serializer:json"`
	HeaderRowConfig   map[string]int    `json:"header_row_config" gorm:"serializer:json"`
	EndOfDataSignal   string            `json:"end_of_data_signal" gorm:"size:255"`
	DateFormat        string            `json:"date_format" gorm:"size:64"`
	ChargeKeywords    []string          `json:"charge_keywords" gorm:"serializer:json"`
	ColumnMapping     map[string]string `json:"column_mapping" gorm:"serializer:json"`
	RequiredColumns   []string          `json:"required_columns" gorm:"serializer:json"`

	// SliceColumns drops this many leading columns before mapping. Some
	// bank exports prepend blank spacer columns.
	SliceColumns int `json:"slice_columns"`

	// TopupMarker is the remark value that tags internal top-up lines.
	TopupMarker string `json:"topup_marker" gorm:"size:64"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HeaderRowsFor returns the number of rows to skip for a file format.
func (c *GatewayFileConfig) HeaderRowsFor(format string) int {
	if c.HeaderRowConfig == nil {
		return 0
	}
	return c.HeaderRowConfig[strings.ToLower(format)]
}

// ColumnFor returns the source column name for a canonical role, or ""
// when the layout does not carry that column.
func (c *GatewayFileConfig) ColumnFor(role string) string {
	if c.ColumnMapping == nil {
		return ""
	}
	return c.ColumnMapping[role]
}

// MergedChargeKeywords returns the lowercased union of this config's
// keywords with another's. Classification uses the union of the external
// and internal sides.
func (c *GatewayFileConfig) MergedChargeKeywords(other *GatewayFileConfig) []string {
	seen := make(map[string]bool)
	var merged []string
	add := func(keywords []string) {
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && !seen[kw] {
				seen[kw] = true
				merged = append(merged, kw)
			}
		}
	}
	add(c.ChargeKeywords)
	if other != nil {
		add(other.ChargeKeywords)
	}
	return merged
}

// Store reads gateway configurations from the configuration database.
type Store struct {
	db *gorm.DB
}

// NewStore creates a configuration store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get fetches the configuration for one upload gateway name.
func (s *Store) Get(ctx context.Context, name string) (*GatewayFileConfig, error) {
	var config GatewayFileConfig
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&config).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, name, err)
		}
		return nil, errors.DatabaseError("gateway config lookup", err)
	}
	return &config, nil
}

// Pair fetches the external and internal configurations for a base
// gateway. The external side is named {base}; the internal side
// workpay_{base}.
func (s *Store) Pair(ctx context.Context, base string) (external, internal *GatewayFileConfig, err error) {
	base = strings.ToLower(base)
	external, err = s.Get(ctx, base)
	if err != nil {
		return nil, nil, err
	}
	internal, err = s.Get(ctx, "workpay_"+base)
	if err != nil {
		return nil, nil, err
	}
	return external, internal, nil
}

// Seed installs or replaces configurations, keyed by name. Used by tests
// and the CLI bootstrap path.
func (s *Store) Seed(ctx context.Context, configs ...*GatewayFileConfig) error {
	for _, config := range configs {
		err := s.db.WithContext(ctx).
			Where("name = ?", config.Name).
			Delete(&GatewayFileConfig{}).Error
		if err != nil {
			return errors.DatabaseError("gateway config seed", err)
		}
		if err := s.db.WithContext(ctx).Create(config).Error; err != nil {
			return errors.DatabaseError("gateway config seed", err)
		}
	}
	return nil
}

// DefaultExternalConfig returns a workable external layout for a gateway,
// used by the CLI bootstrap path.
func DefaultExternalConfig(base string) *GatewayFileConfig {
	return &GatewayFileConfig{
		Name:              strings.ToLower(base),
		ConfigType:        TypeExternal,
		FilenamePrefix:    strings.ToLower(base),
		ExpectedFiletypes: []string{"xlsx", "xls", "csv"},
		HeaderRowConfig:   map[string]int{"xlsx": 0, "xls": 0, "csv": 0},
		DateFormat:        "2006-01-02",
		ColumnMapping: map[string]string{
			ColumnDate:      "Date",
			ColumnReference: "Reference",
			ColumnDetails:   "Details",
			ColumnDebit:     "Debit",
			ColumnCredit:    "Credit",
		},
		RequiredColumns: []string{"Date", "Details", "Debit", "Credit"},
	}
}

// DefaultInternalConfig returns a workable internal ledger layout for a
// gateway.
func DefaultInternalConfig(base string) *GatewayFileConfig {
	return &GatewayFileConfig{
		Name:              "workpay_" + strings.ToLower(base),
		ConfigType:        TypeInternal,
		FilenamePrefix:    "workpay_" + strings.ToLower(base),
		ExpectedFiletypes: []string{"xlsx", "xls", "csv"},
		HeaderRowConfig:   map[string]int{"xlsx": 0, "xls": 0, "csv": 0},
		DateFormat:        "2006-01-02",
		ColumnMapping: map[string]string{
			ColumnDate:      "Date",
			ColumnReference: "Reference",
			ColumnDetails:   "Narrative",
			ColumnDebit:     "Amount",
			ColumnStatus:    "Status",
			ColumnRemark:    "Remark",
		},
		RequiredColumns: []string{"Date", "Reference", "Amount"},
		TopupMarker:     "Wallet Topup",
	}
}
