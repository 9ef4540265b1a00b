package change

import (
	"sort"
)

// Validate checks the structural invariants of a draft change set: well
// formed records per operation, unique strictly increasing sequence numbers,
// and a dependency set that resolves within the change set and forms a DAG.
func (c *ChangeSet) Validate() error {
	if len(c.Records) == 0 {
		return NewValidationError("change set %s has no records", c.ID)
	}
	byID := make(map[string]*ChangeRecord, len(c.Records))
	lastSeq := 0
	seen := make(map[int]bool, len(c.Records))
	for i, record := range c.Records {
		if record.ID == "" {
			return NewValidationError("record %d has empty id", i)
		}
		if byID[record.ID] != nil {
			return NewValidationError("duplicate record id %s", record.ID)
		}
		byID[record.ID] = record
		if record.SequenceNo <= 0 {
			return NewValidationError("record %s has non-positive sequence %d", record.ID, record.SequenceNo)
		}
		if seen[record.SequenceNo] {
			return NewValidationError("duplicate sequence %d on record %s", record.SequenceNo, record.ID)
		}
		seen[record.SequenceNo] = true
		if record.SequenceNo <= lastSeq {
			return NewValidationError("sequence %d on record %s is not increasing", record.SequenceNo, record.ID)
		}
		lastSeq = record.SequenceNo
		if err := record.validate(); err != nil {
			return err
		}
	}
	for _, record := range c.Records {
		for _, dep := range record.DependsOn {
			if byID[dep] == nil {
				return NewValidationError("record %s depends on unknown record %s", record.ID, dep)
			}
			if dep == record.ID {
				return NewValidationError("record %s depends on itself", record.ID)
			}
		}
	}
	if cycle := findCycle(c.Records, byID); cycle != "" {
		return NewValidationError("dependency cycle involving record %s", cycle)
	}
	return nil
}

func (r *ChangeRecord) validate() error {
	if r.EntityType == "" {
		return NewValidationError("record %s has empty entity type", r.ID)
	}
	switch r.Operation {
	case OperationCreate:
		if len(r.AfterState) == 0 {
			return NewValidationError("create record %s requires after state", r.ID)
		}
	case OperationDelete:
		if len(r.BeforeState) == 0 {
			return NewValidationError("delete record %s requires before state", r.ID)
		}
		if r.AfterState != nil {
			return NewValidationError("delete record %s must not carry after state", r.ID)
		}
	case OperationUpdate:
		if len(r.BeforeState) == 0 || len(r.AfterState) == 0 {
			return NewValidationError("update record %s requires before and after state", r.ID)
		}
	default:
		return NewValidationError("record %s has unsupported operation %q", r.ID, r.Operation)
	}
	if r.Operation != OperationCreate && r.EntityID == "" {
		return NewValidationError("record %s has empty entity id", r.ID)
	}
	return nil
}

// findCycle returns the id of a record on a dependency cycle, or "".
func findCycle(records []*ChangeRecord, byID map[string]*ChangeRecord) string {
	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[string]int, len(records))
	var visit func(id string) string
	visit = func(id string) string {
		switch marks[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		marks[id] = visiting
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if ret := visit(dep); ret != "" {
				return ret
			}
		}
		marks[id] = done
		return ""
	}
	for _, record := range records {
		if ret := visit(record.ID); ret != "" {
			return ret
		}
	}
	return ""
}

// ApplyOrder returns records in dependency order; among records whose
// dependencies are satisfied the ascending sequence number is the total
// order.  Validate is expected to have passed, so the graph is acyclic.
func (c *ChangeSet) ApplyOrder() []*ChangeRecord {
	byID := make(map[string]*ChangeRecord, len(c.Records))
	pending := make(map[string]int, len(c.Records))
	for _, record := range c.Records {
		byID[record.ID] = record
	}
	for _, record := range c.Records {
		count := 0
		for _, dep := range record.DependsOn {
			if byID[dep] != nil {
				count++
			}
		}
		pending[record.ID] = count
	}
	remaining := append([]*ChangeRecord(nil), c.Records...)
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].SequenceNo < remaining[j].SequenceNo
	})
	ret := make([]*ChangeRecord, 0, len(remaining))
	scheduled := make(map[string]bool, len(remaining))
	for len(ret) < len(remaining) {
		progressed := false
		for _, record := range remaining {
			if scheduled[record.ID] || pending[record.ID] > 0 {
				continue
			}
			scheduled[record.ID] = true
			ret = append(ret, record)
			progressed = true
			for _, other := range remaining {
				for _, dep := range other.DependsOn {
					if dep == record.ID {
						pending[other.ID]--
					}
				}
			}
		}
		if !progressed {
			break
		}
	}
	return ret
}
