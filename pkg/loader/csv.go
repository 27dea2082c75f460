package loader

import (
	"context"
	"errors"
	"os"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"

	"github.com/akhildatla/minivm/pkg/trace"
)

// Error definitions
var (
	ErrEmptyFile = errors.New("empty CSV file")
)

// LoadCSV reads a CSV trace and returns a DataFrame using dataframe-go.
// - First row is header (column names)
// - Trace columns get their recorded types; other columns are inferred
func LoadCSV(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	df, err := imports.LoadFromCSV(ctx, file, imports.CSVLoadOptions{
		DictateDataType: trace.Schema(),
		InferDataTypes:  true,
	})
	if err != nil {
		return nil, err
	}

	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyFile
	}

	return df, nil
}
