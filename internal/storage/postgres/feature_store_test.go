package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/citenet/internal/citation"
)

func sampleRow() citation.FeatureRow {
	return citation.FeatureRow{
		DOI:              "10.1/seed",
		Status:           citation.StatusTruncated,
		Truncated:        true,
		NNodes:           5,
		NEdges:           4,
		DepthReached:     2,
		OutDegree:        3,
		DegreeCentrality: 0.75,
		Density:          0.2,
		Betweenness:      0.5,
		Modularity:       0.25,

		RootSameInstitutionFrac: 0.6,
	}
}

func TestStoreFeaturesInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFeatureStoreWithPool(mock, "chunk_features")
	require.NoError(t, err)

	row := sampleRow()
	mock.ExpectExec("INSERT INTO chunk_features").
		WithArgs(
			7,
			row.DOI,
			"truncated",
			true,
			5,
			4,
			0,
			2,
			0,
			3,
			0.75,
			0.2,
			0.0,
			0.5,
			0.0,
			0.0,
			0.0,
			0.0,
			0.0,
			0.0,
			0.25,
			0.0,
			0.0,
			0.0,
			0.6,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreFeatures(context.Background(), 7, row))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFeaturesPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFeatureStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO chunk_features").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	require.Error(t, store.StoreFeatures(context.Background(), 1, sampleRow()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFeatureStoreWithPool(mock, "features_v2")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS features_v2").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFeaturesValidation(t *testing.T) {
	t.Parallel()

	_, err := NewFeatureStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewFeatureStoreWithPool(mock, "drop table;")
	require.Error(t, err)

	store, err := NewFeatureStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.StoreFeatures(context.Background(), 1, citation.FeatureRow{}))

	_, err = NewFeatureStore(context.Background(), FeatureStoreConfig{})
	require.Error(t, err)
}
