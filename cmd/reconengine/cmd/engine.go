package cmd

import (
	"github.com/spf13/viper"

	"payment-reconciliation-engine/internal/blobstore"
	"payment-reconciliation-engine/internal/gatewayconfig"
	"payment-reconciliation-engine/internal/store"
)

// engine bundles the wired collaborators every subcommand needs.
type engine struct {
	store   *store.Store
	blobs   blobstore.Store
	configs *gatewayconfig.Store
}

// newEngine opens the database per configuration, migrates the schema and
// wires the stores.
func newEngine() (*engine, error) {
	db, err := store.Open(
		viper.GetString("database.driver"),
		viper.GetString("database.dsn"),
	)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(db); err != nil {
		return nil, err
	}

	blobs, err := blobstore.NewFilesystemStore(viper.GetString("storage.root"))
	if err != nil {
		return nil, err
	}

	return &engine{
		store:   store.New(db),
		blobs:   blobs,
		configs: gatewayconfig.NewStore(db),
	}, nil
}
