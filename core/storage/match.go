package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

func matchAll(row Row, where []Condition) (bool, error) {
	for _, cond := range where {
		ok, err := match(row, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(row Row, cond Condition) (bool, error) {
	val, present := row[cond.Column]
	switch strings.ToLower(strings.TrimSpace(cond.Op)) {
	case "", OpEq:
		return present && compare(val, cond.Value) == 0, nil
	case OpNe:
		return !present || compare(val, cond.Value) != 0, nil
	case OpIn:
		return present && inList(val, cond.Value), nil
	case OpNotIn:
		return !present || !inList(val, cond.Value), nil
	case OpLt:
		return present && compare(val, cond.Value) < 0, nil
	case OpLe:
		return present && compare(val, cond.Value) <= 0, nil
	case OpGt:
		return present && compare(val, cond.Value) > 0, nil
	case OpGe:
		return present && compare(val, cond.Value) >= 0, nil
	case OpIsNull:
		return !present || val == nil, nil
	case OpNotNull:
		return present && val != nil, nil
	default:
		return false, fmt.Errorf("unsupported condition %q", cond.Op)
	}
}

func inList(val, list any) bool {
	switch items := list.(type) {
	case []string:
		for _, item := range items {
			if compare(val, item) == 0 {
				return true
			}
		}
	case []any:
		for _, item := range items {
			if compare(val, item) == 0 {
				return true
			}
		}
	}
	return false
}

// compare orders numbers numerically and everything else by its text form.
func compare(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(text(a), text(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func sortRows(rows []Row, s *Sort) {
	if s == nil || s.Column == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := compare(rows[i][s.Column], rows[j][s.Column])
		if s.Desc {
			return c > 0
		}
		return c < 0
	})
}

func project(rows []Row, q Query) []Row {
	if len(q.Return) == 0 && !q.Distinct {
		return rows
	}
	out := make([]Row, 0, len(rows))
	seen := make(map[string]struct{})
	for _, row := range rows {
		projected := row
		if len(q.Return) > 0 {
			projected = make(Row, len(q.Return))
			for _, col := range q.Return {
				if v, ok := row[col]; ok {
					projected[col] = v
				}
			}
		}
		if q.Distinct {
			key := distinctKey(projected, q.Return)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, projected)
	}
	return out
}

func distinctKey(row Row, cols []string) string {
	if len(cols) == 0 {
		cols = make([]string, 0, len(row))
		for k := range row {
			cols = append(cols, k)
		}
		sort.Strings(cols)
	}
	var b strings.Builder
	for _, col := range cols {
		b.WriteString(col)
		b.WriteByte('=')
		b.WriteString(text(row[col]))
		b.WriteByte(0)
	}
	return b.String()
}
