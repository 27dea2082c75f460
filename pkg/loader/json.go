package loader

import (
	"bytes"
	"context"
	"errors"
	"os"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"

	"github.com/akhildatla/minivm/pkg/trace"
)

// JSON-specific errors
var (
	ErrEmptyJSON = errors.New("empty JSON file")
)

// LoadJSON reads a JSON lines trace, one object per row:
//
//	{"step":1,"pc":0,"opcode":"puti",...}
func LoadJSON(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyJSON
	}

	df, err := imports.LoadFromJSON(ctx, bytes.NewReader(data), imports.JSONLoadOptions{
		DictateDataType: trace.Schema(),
	})
	if err != nil {
		return nil, err
	}

	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyJSON
	}

	return df, nil
}
