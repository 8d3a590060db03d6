package contract

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

type OpSig struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// JSON-friendly representation of a status change for a single op
type StatusChange struct {
	Method string   `json:"method"`
	Path   string   `json:"path"`
	A      []string `json:"a"`
	B      []string `json:"b"`
}

type DiffReport struct {
	Added         []OpSig        `json:"added"`          // present in B, not in A
	Removed       []OpSig        `json:"removed"`        // present in A, not in B
	ChangedStatus []StatusChange `json:"changed_status"` // same op, different status sets
}

// opsOf flattens a document into op -> declared status-code set.
func opsOf(doc *openapi3.T) map[OpSig]map[string]bool {
	out := map[OpSig]map[string]bool{}
	if doc == nil || doc.Paths == nil {
		return out
	}
	for p, pi := range doc.Paths.Map() {
		if pi == nil {
			continue
		}
		for method, op := range pi.Operations() {
			statuses := map[string]bool{}
			if op.Responses != nil {
				for code := range op.Responses.Map() {
					statuses[code] = true
				}
			}
			out[OpSig{Method: method, Path: p}] = statuses
		}
	}
	return out
}

// DiffDocs compares two OpenAPI documents at the operation level: ops added,
// ops removed, and ops whose declared response status sets differ.
func DiffDocs(a, b *openapi3.T) DiffReport {
	opsA := opsOf(a)
	opsB := opsOf(b)

	var rep DiffReport
	for op := range opsB {
		if _, ok := opsA[op]; !ok {
			rep.Added = append(rep.Added, op)
		}
	}
	for op, statusA := range opsA {
		statusB, ok := opsB[op]
		if !ok {
			rep.Removed = append(rep.Removed, op)
			continue
		}
		if !equalStrSet(statusA, statusB) {
			rep.ChangedStatus = append(rep.ChangedStatus, StatusChange{
				Method: op.Method,
				Path:   op.Path,
				A:      toSortedSlice(statusA),
				B:      toSortedSlice(statusB),
			})
		}
	}

	sortOps(rep.Added)
	sortOps(rep.Removed)
	sort.Slice(rep.ChangedStatus, func(i, j int) bool {
		if rep.ChangedStatus[i].Path == rep.ChangedStatus[j].Path {
			return rep.ChangedStatus[i].Method < rep.ChangedStatus[j].Method
		}
		return rep.ChangedStatus[i].Path < rep.ChangedStatus[j].Path
	})
	return rep
}

func equalStrSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func toSortedSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortOps(ops []OpSig) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Path == ops[j].Path {
			return ops[i].Method < ops[j].Method
		}
		return ops[i].Path < ops[j].Path
	})
}
