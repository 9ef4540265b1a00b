package change

// Clone returns a deep copy of the record so stores can hand out snapshots
// without sharing captured state.
func (r *ChangeRecord) Clone() *ChangeRecord {
	if r == nil {
		return nil
	}
	ret := *r
	ret.BeforeState = r.BeforeState.Clone()
	ret.AfterState = r.AfterState.Clone()
	ret.DependsOn = append([]string(nil), r.DependsOn...)
	return &ret
}

// Clone returns a deep copy of the change set.  Versioned stores persist and
// serve clones so concurrent owners race on SCN instead of sharing memory.
func (c *ChangeSet) Clone() *ChangeSet {
	if c == nil {
		return nil
	}
	ret := *c
	if c.Records != nil {
		ret.Records = make([]*ChangeRecord, len(c.Records))
		for i, record := range c.Records {
			ret.Records[i] = record.Clone()
		}
	}
	return &ret
}
