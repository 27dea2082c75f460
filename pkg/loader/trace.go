package loader

import (
	"context"
	"fmt"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/minivm/pkg/trace"
)

// LoadTrace reads a trace written by trace.WriteFile, choosing the reader
// from the file extension.
func LoadTrace(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	format, err := trace.FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	var df *dataframe.DataFrame
	switch format {
	case trace.FormatCSV:
		df, err = LoadCSV(ctx, path)
	case trace.FormatJSONL:
		df, err = LoadJSON(ctx, path)
	case trace.FormatParquet:
		df, err = LoadParquet(ctx, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", path, err)
	}
	return orderColumns(df), nil
}

// orderColumns puts known trace columns first, in trace.Columns order.
// The JSON reader sorts keys and the parquet reader may capitalise them;
// names are matched case-insensitively. Unknown columns keep their
// relative order after the known ones.
func orderColumns(df *dataframe.DataFrame) *dataframe.DataFrame {
	if len(df.Series) == 0 {
		return df
	}

	byName := make(map[string]dataframe.Series, len(df.Series))
	for _, s := range df.Series {
		byName[strings.ToLower(s.Name())] = s
	}

	ordered := make([]dataframe.Series, 0, len(df.Series))
	used := make(map[dataframe.Series]bool, len(df.Series))
	for _, name := range trace.Columns {
		if s, ok := byName[name]; ok && !used[s] {
			ordered = append(ordered, s)
			used[s] = true
		}
	}
	for _, s := range df.Series {
		if !used[s] {
			ordered = append(ordered, s)
		}
	}
	return dataframe.NewDataFrame(ordered...)
}

// LoadTraceRows reads a trace and converts it to rows.
func LoadTraceRows(ctx context.Context, path string) ([]trace.Row, error) {
	df, err := LoadTrace(ctx, path)
	if err != nil {
		return nil, err
	}
	return trace.RowsFromDataFrame(df)
}
