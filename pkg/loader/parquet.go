package loader

import (
	"context"
	"errors"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"
)

// Parquet-specific errors
var (
	ErrEmptyParquet = errors.New("empty Parquet file")
)

// LoadParquet reads a Parquet trace and returns a DataFrame.
// Uses the dataframe-go imports package with parquet-go backend.
func LoadParquet(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	df, err := imports.LoadFromParquet(ctx, fr)
	if err != nil {
		return nil, err
	}

	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyParquet
	}

	return df, nil
}
