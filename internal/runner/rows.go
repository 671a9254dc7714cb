package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/postfilter"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
)

// staticRows builds rows from xref evidence alone. Only candidates that
// survived the whole static filter are reported, so a scope narrows the
// evidence too.
func staticRows(target query.Target, candidates []bytecode.Method, evidence map[string][]bytecode.Xref) []postfilter.Row {
	var rows []postfilter.Row
	for _, m := range candidates {
		sig := m.Signature()
		sites := evidence[sig]
		if len(sites) == 0 {
			continue
		}
		rows = append(rows, methodRow(sig, sites))
	}
	if target == query.TargetClasses {
		return classRows(rows)
	}
	return rows
}

func methodRow(sig string, sites []bytecode.Xref) postfilter.Row {
	row := postfilter.Row{
		Label:   sig,
		Target:  sig,
		Columns: map[string]any{"count": len(sites)},
	}
	for _, x := range sites {
		desc := describeSite(x)
		row.Evidence = append(row.Evidence, postfilter.Evidence{
			Method:      sig,
			PC:          x.InstructionIndex,
			Type:        x.Kind.String(),
			Description: desc,
		})
		child := postfilter.Row{
			Label:   desc,
			Target:  fmt.Sprintf("%s@%d", sig, x.InstructionIndex),
			Columns: map[string]any{"pc": x.InstructionIndex},
		}
		if x.Line > 0 {
			child.Columns["line"] = x.Line
		}
		if len(x.ArgKinds) > 0 {
			child.Columns["args"] = bytecode.FormatArgKinds(x.ArgKinds)
		}
		row.Children = append(row.Children, child)
	}
	return row
}

func describeSite(x bytecode.Xref) string {
	switch x.Kind {
	case bytecode.RefCall:
		return "Call to " + x.TargetDisplay()
	case bytecode.RefFieldRead:
		return "Read of " + x.TargetOwner + "." + x.TargetName
	case bytecode.RefFieldWrite:
		return "Write to " + x.TargetOwner + "." + x.TargetName
	}
	return x.Kind.String() + " " + x.TargetDisplay()
}

// classRows folds method rows into one row per owning class, with the
// method rows as children.
func classRows(methods []postfilter.Row) []postfilter.Row {
	index := make(map[string]int)
	var rows []postfilter.Row
	for _, m := range methods {
		owner := bytecode.OwnerOf(m.Label)
		i, ok := index[owner]
		if !ok {
			i = len(rows)
			index[owner] = i
			rows = append(rows, postfilter.Row{
				Label:   owner,
				Target:  owner,
				Columns: map[string]any{"methods": 0, "count": 0},
			})
		}
		r := &rows[i]
		r.Columns["methods"] = r.Columns["methods"].(int) + 1
		r.Columns["count"] = r.Columns["count"].(int) + len(m.Evidence)
		r.Evidence = append(r.Evidence, m.Evidence...)
		r.Children = append(r.Children, m)
	}
	return rows
}

// mergeByLabel combines rows with equal labels, summing integer columns and
// concatenating evidence. First-seen order is kept.
func mergeByLabel(in []postfilter.Row) []postfilter.Row {
	index := make(map[string]int)
	var out []postfilter.Row
	for _, row := range in {
		i, ok := index[row.Label]
		if !ok {
			index[row.Label] = len(out)
			cols := make(map[string]any, len(row.Columns))
			for k, v := range row.Columns {
				cols[k] = v
			}
			row.Columns = cols
			out = append(out, row)
			continue
		}
		dst := &out[i]
		for k, v := range row.Columns {
			a, aok := toFloat(dst.Columns[k])
			b, bok := toFloat(v)
			if aok && bok {
				if _, isInt := v.(int); isInt {
					dst.Columns[k] = int(a + b)
				} else {
					dst.Columns[k] = a + b
				}
			}
		}
		dst.Evidence = append(dst.Evidence, row.Evidence...)
		dst.Children = append(dst.Children, row.Children...)
	}
	return out
}

// sortRows orders rows by key. "name" sorts by label, "count" by the count
// column falling back to evidence size, and any other key by the column of
// that name. Numeric values compare numerically; rows lacking the key sort
// last in either direction.
func sortRows(rows []postfilter.Row, key string, desc bool) {
	key = strings.ToLower(key)
	if key == "name" || key == "label" {
		sort.SliceStable(rows, func(i, j int) bool {
			if desc {
				return rows[i].Label > rows[j].Label
			}
			return rows[i].Label < rows[j].Label
		})
		return
	}

	value := func(r postfilter.Row) (any, bool) {
		if v, ok := r.Columns[key]; ok {
			return v, true
		}
		if key == "count" {
			return len(r.Evidence), true
		}
		return nil, false
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := value(rows[i])
		b, bok := value(rows[j])
		if !aok || !bok {
			return aok && !bok
		}
		c := compareValues(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
