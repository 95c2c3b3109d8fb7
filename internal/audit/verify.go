package audit

import "fmt"

// Verify walks entries in sequence order and checks both that every stored
// hash matches its content and that every entry links to its predecessor.
// BrokenAt is the sequence of the first entry that fails either check.
func Verify(entries []Entry) *VerifyResult {
	result := &VerifyResult{Valid: true}

	prevHash := ""
	for _, e := range entries {
		result.Checked++

		if computed := e.ComputeHash(); computed != e.Hash {
			result.fail(e.Sequence, fmt.Sprintf("entry %d: stored hash does not match its content", e.Sequence))
		}
		if e.PrevHash != prevHash {
			result.fail(e.Sequence, fmt.Sprintf("entry %d: previous hash does not match entry before it", e.Sequence))
		}
		prevHash = e.Hash
	}
	return result
}

func (r *VerifyResult) fail(sequence int64, violation string) {
	if r.Valid {
		seq := sequence
		r.BrokenAt = &seq
	}
	r.Valid = false
	r.Violations = append(r.Violations, violation)
}
