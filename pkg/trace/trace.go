// Package trace records executed instructions and exports them as tables.
//
// A Recorder is a vm.Tracer. Its rows convert to a dataframe-go DataFrame,
// which is written as CSV, JSON lines or Parquet depending on the target
// file extension:
//
//	rec := trace.NewRecorder(0)
//	machine := vm.New(vm.WithTracer(rec))
//	...
//	err := rec.WriteFile(ctx, "run.parquet")
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/xitongsys/parquet-go-source/local"

	"github.com/akhildatla/minivm/internal/log"
	"github.com/akhildatla/minivm/pkg/vm"
)

// Column names, in export order.
const (
	ColStep    = "step"
	ColPC      = "pc"
	ColOpcode  = "opcode"
	ColA       = "a"
	ColB       = "b"
	ColC       = "c"
	ColOutcome = "outcome"
	ColNextPC  = "next_pc"
)

// Columns lists every trace column in export order.
var Columns = []string{ColStep, ColPC, ColOpcode, ColA, ColB, ColC, ColOutcome, ColNextPC}

var (
	ErrUnknownFormat = errors.New("unknown trace format")
	ErrMissingColumn = errors.New("trace is missing a column")
)

// Format is a trace file format.
type Format uint8

const (
	FormatCSV Format = iota
	FormatJSONL
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSONL:
		return "jsonl"
	case FormatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".json":
		return FormatJSONL, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Schema returns the column types for importers that need them dictated.
func Schema() map[string]interface{} {
	return map[string]interface{}{
		ColStep:    int64(0),
		ColPC:      int64(0),
		ColOpcode:  "",
		ColA:       int64(0),
		ColB:       int64(0),
		ColC:       int64(0),
		ColOutcome: "",
		ColNextPC:  int64(0),
	}
}

// Row is one executed instruction.
type Row struct {
	Step    int64
	PC      int64
	Opcode  string
	A, B, C int64
	Outcome string
	NextPC  int64
}

// RowFromEvent converts a step event.
func RowFromEvent(e vm.StepEvent) Row {
	return Row{
		Step:    e.Step,
		PC:      int64(e.PC),
		Opcode:  e.Inst.Opcode().String(),
		A:       int64(e.Inst.A()),
		B:       int64(e.Inst.B()),
		C:       int64(e.Inst.C()),
		Outcome: e.Outcome.String(),
		NextPC:  int64(e.NextPC),
	}
}

// Recorder collects rows from a running VM. With a positive limit only
// the most recent limit rows are kept.
type Recorder struct {
	mu      sync.Mutex
	rows    []Row
	limit   int
	dropped int64
}

// NewRecorder creates a recorder. A limit of zero keeps every row.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// OnStep implements vm.Tracer.
func (r *Recorder) OnStep(e vm.StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows = append(r.rows, RowFromEvent(e))
	if r.limit > 0 && len(r.rows) > r.limit {
		n := len(r.rows) - r.limit
		r.rows = append(r.rows[:0], r.rows[n:]...)
		r.dropped += int64(n)
	}
}

// Rows returns a copy of the recorded rows.
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Row(nil), r.rows...)
}

// Dropped reports how many rows were discarded because of the limit.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// DataFrame converts the recorded rows.
func (r *Recorder) DataFrame() *dataframe.DataFrame {
	return ToDataFrame(r.Rows())
}

// WriteFile exports the recorded rows to path.
func (r *Recorder) WriteFile(ctx context.Context, path string) error {
	return WriteFile(ctx, path, r.DataFrame())
}

// ToDataFrame builds a DataFrame with one series per column.
func ToDataFrame(rows []Row) *dataframe.DataFrame {
	n := len(rows)
	step := make([]interface{}, n)
	pc := make([]interface{}, n)
	opcode := make([]interface{}, n)
	a := make([]interface{}, n)
	b := make([]interface{}, n)
	c := make([]interface{}, n)
	outcome := make([]interface{}, n)
	next := make([]interface{}, n)

	for i, row := range rows {
		step[i] = row.Step
		pc[i] = row.PC
		opcode[i] = row.Opcode
		a[i] = row.A
		b[i] = row.B
		c[i] = row.C
		outcome[i] = row.Outcome
		next[i] = row.NextPC
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64(ColStep, nil, step...),
		dataframe.NewSeriesInt64(ColPC, nil, pc...),
		dataframe.NewSeriesString(ColOpcode, nil, opcode...),
		dataframe.NewSeriesInt64(ColA, nil, a...),
		dataframe.NewSeriesInt64(ColB, nil, b...),
		dataframe.NewSeriesInt64(ColC, nil, c...),
		dataframe.NewSeriesString(ColOutcome, nil, outcome...),
		dataframe.NewSeriesInt64(ColNextPC, nil, next...),
	)
}

// Export writes df to w in the given format.
func Export(ctx context.Context, w io.Writer, df *dataframe.DataFrame, format Format) error {
	switch format {
	case FormatCSV:
		return exports.ExportToCSV(ctx, w, df)
	case FormatJSONL:
		return exports.ExportToJSON(ctx, w, df)
	case FormatParquet:
		return exports.ExportToParquet(ctx, w, df)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// WriteFile writes df to path in the format implied by its extension.
func WriteFile(ctx context.Context, path string, df *dataframe.DataFrame) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	var w io.WriteCloser
	if format == FormatParquet {
		w, err = local.NewLocalFileWriter(path)
	} else {
		w, err = os.Create(path)
	}
	if err != nil {
		return fmt.Errorf("create trace %s: %w", path, err)
	}

	if err := Export(ctx, w, df, format); err != nil {
		w.Close()
		return fmt.Errorf("export trace %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close trace %s: %w", path, err)
	}

	log.Debug(log.Trace, "trace written", "path", path, "format", format.String(), "rows", df.NRows())
	return nil
}

// RowsFromDataFrame converts a loaded trace back to rows. Columns are
// matched by case-insensitive name, so their order and the capitalisation
// an importer applies do not matter.
func RowsFromDataFrame(df *dataframe.DataFrame) ([]Row, error) {
	series := make(map[string]dataframe.Series, len(df.Series))
	for _, s := range df.Series {
		series[strings.ToLower(s.Name())] = s
	}
	for _, name := range Columns {
		if _, ok := series[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	n := df.NRows()
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		var err error
		get := func(name string) int64 {
			v, convErr := toInt64(series[name].Value(i))
			if convErr != nil && err == nil {
				err = fmt.Errorf("row %d column %s: %w", i, name, convErr)
			}
			return v
		}

		rows[i] = Row{
			Step:    get(ColStep),
			PC:      get(ColPC),
			Opcode:  toString(series[ColOpcode].Value(i)),
			A:       get(ColA),
			B:       get(ColB),
			C:       get(ColC),
			Outcome: toString(series[ColOutcome].Value(i)),
			NextPC:  get(ColNextPC),
		}
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected value %v (%T)", v, v)
	}
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
