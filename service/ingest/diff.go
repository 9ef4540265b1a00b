package ingest

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	sgdiff "github.com/sourcegraph/go-diff/diff"
	"github.com/viant/govern/model/change"
)

// ContentField is the state key holding a keyed document's text when records
// are derived from a unified diff.
const ContentField = "content"

// Summary renders a reviewer-facing unified diff between a record's before
// and after state content.
func Summary(record *change.ChangeRecord) (string, error) {
	before, _ := record.BeforeState[ContentField].(string)
	after, _ := record.AfterState[ContentField].(string)
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + record.EntityID,
		ToFile:   "b/" + record.EntityID,
		Context:  3,
	}
	summary, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("summary generation: %w", err)
	}
	return summary, nil
}

// parseDiff converts a multi-document unified diff into change records over
// the supplied keyed documents.  Document keys are the file names with the
// conventional a/ and b/ prefixes stripped.
func parseDiff(entityType string, documents map[string]string, unifiedDiff string) ([]*change.ChangeRecord, error) {
	fileDiffs, err := sgdiff.ParseMultiFileDiff([]byte(unifiedDiff))
	if err != nil {
		return nil, change.NewValidationError("malformed diff: %v", err)
	}
	var ret []*change.ChangeRecord
	for i, fileDiff := range fileDiffs {
		origName := strings.TrimPrefix(fileDiff.OrigName, "a/")
		newName := strings.TrimPrefix(fileDiff.NewName, "b/")
		record := &change.ChangeRecord{SequenceNo: i + 1, EntityType: entityType}
		switch {
		case fileDiff.OrigName == "/dev/null":
			content, err := patch("", fileDiff.Hunks)
			if err != nil {
				return nil, change.NewValidationError("document %s: %v", newName, err)
			}
			record.Operation = change.OperationCreate
			record.EntityID = newName
			record.AfterState = change.State{ContentField: content}
		case fileDiff.NewName == "/dev/null":
			existing, ok := documents[origName]
			if !ok {
				return nil, change.NewValidationError("diff deletes unknown document %s", origName)
			}
			record.Operation = change.OperationDelete
			record.EntityID = origName
			record.BeforeState = change.State{ContentField: existing}
		default:
			existing, ok := documents[origName]
			if !ok {
				return nil, change.NewValidationError("diff updates unknown document %s", origName)
			}
			content, err := patch(existing, fileDiff.Hunks)
			if err != nil {
				return nil, change.NewValidationError("document %s: %v", origName, err)
			}
			record.Operation = change.OperationUpdate
			record.EntityID = origName
			record.BeforeState = change.State{ContentField: existing}
			record.AfterState = change.State{ContentField: content}
		}
		ret = append(ret, record)
	}
	return ret, nil
}

// patch applies diff hunks to a document.  Context and deletion lines are
// verified against the original; any mismatch aborts.
func patch(original string, hunks []*sgdiff.Hunk) (string, error) {
	originalLines := strings.SplitAfter(original, "\n")
	var out strings.Builder
	cursor := 0

	matches := func(have, want string) bool {
		if have == want {
			return true
		}
		// SplitAfter leaves a trailing empty element where the diff encodes
		// the terminating newline as a "\n" context line
		return (have == "" && want == "\n") || (have == "\n" && want == "")
	}

	for _, hunk := range hunks {
		target := int(hunk.OrigStartLine) - 1
		for cursor < target && cursor < len(originalLines) {
			out.WriteString(originalLines[cursor])
			cursor++
		}
		for _, bodyLine := range strings.SplitAfter(string(hunk.Body), "\n") {
			if bodyLine == "" {
				continue
			}
			tag, line := bodyLine[0], bodyLine[1:]
			switch tag {
			case ' ':
				if cursor >= len(originalLines) || !matches(originalLines[cursor], line) {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				if !(originalLines[cursor] == "" && line == "\n") {
					out.WriteString(line)
				}
				cursor++
			case '-':
				if cursor >= len(originalLines) || !matches(originalLines[cursor], line) {
					return "", fmt.Errorf("delete mismatch at line %d", cursor+1)
				}
				cursor++
			case '+':
				out.WriteString(line)
			case '\\':
				// "\ No newline at end of file"
				continue
			default:
				return "", fmt.Errorf("unexpected hunk tag %q", tag)
			}
		}
	}
	for cursor < len(originalLines) {
		out.WriteString(originalLines[cursor])
		cursor++
	}
	return out.String(), nil
}
