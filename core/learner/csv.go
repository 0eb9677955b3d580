package learner

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/engage/core/risk"
)

var requiredColumns = []string{"name", "email", "program"}

// ParseCSV reads learners from CSV data with a header row. Columns are
// matched by name and unknown columns are ignored; risk columns, if any, are
// recomputed on import. Numbers are read leniently (see risk.SnapshotFromMap):
// malformed ones are absent.
func ParseCSV(r io.Reader) ([]NewLearner, error) {
	rdr := csv.NewReader(r)
	rdr.TrimLeadingSpace = true
	rdr.FieldsPerRecord = -1

	header, err := rdr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, errors.Errorf("missing column %q", c)
		}
	}

	var records []NewLearner
	for {
		row, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading row")
		}
		get := func(col string) string {
			if i, ok := cols[col]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		snap := risk.SnapshotFromMap(map[string]interface{}{
			"completed_percent":           get("completed_percent"),
			"avg_quiz_score":              get("avg_quiz_score"),
			"consecutive_missed_sessions": get("consecutive_missed_sessions"),
		})
		records = append(records, NewLearner{
			ID:                        get("id"),
			Name:                      get("name"),
			Email:                     get("email"),
			Phone:                     get("phone"),
			Program:                   get("program"),
			LastLogin:                 get("last_login"),
			CompletedPercent:          floatPtr(snap.CompletedPercent),
			AvgQuizScore:              floatPtr(snap.AvgQuizScore),
			ConsecutiveMissedSessions: intPtr(snap.ConsecutiveMissedSessions),
		})
	}
	return records, nil
}

func floatPtr(f null.Float64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func intPtr(i null.Int) *int {
	if !i.Valid {
		return nil
	}
	return &i.Int
}
