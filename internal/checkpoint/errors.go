package checkpoint

import "fmt"

// ContentIntegrityError reports bytes whose hash does not match the hash
// recorded for them. Operations that detect one have already rolled back
// when RolledBack is set.
type ContentIntegrityError struct {
	DocID        string
	CheckpointID string
	Op           string
	Expected     string
	Actual       string
	RolledBack   bool
}

func (e *ContentIntegrityError) Error() string {
	msg := fmt.Sprintf("%s: content integrity check failed for document %q", e.Op, e.DocID)
	if e.CheckpointID != "" {
		msg += fmt.Sprintf(" (checkpoint %s)", e.CheckpointID)
	}
	msg += fmt.Sprintf(": expected hash %s, got %s", short(e.Expected), short(e.Actual))
	if e.RolledBack {
		msg += "; changes were rolled back"
	}
	return msg
}

// CheckpointNotFoundError reports a reference that matches no checkpoint.
type CheckpointNotFoundError struct {
	DocID string
	Ref   string
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("no checkpoint %q for document %q", e.Ref, e.DocID)
}

// RetentionViolationError reports a cleanup that would leave fewer than the
// minimum number of checkpoints. Nothing was deleted.
type RetentionViolationError struct {
	DocID       string
	Requested   int
	Remaining   int
	MinRetained int
}

func (e *RetentionViolationError) Error() string {
	return fmt.Sprintf("cleanup of %d checkpoint(s) for %q would leave %d, below the minimum of %d",
		e.Requested, e.DocID, e.Remaining, e.MinRetained)
}

// DocumentTooLargeError reports a document over the configured checkpoint
// size ceiling.
type DocumentTooLargeError struct {
	DocID string
	Size  int64
	Limit int64
}

func (e *DocumentTooLargeError) Error() string {
	return fmt.Sprintf("document %q is %d bytes, over the %d byte checkpoint limit", e.DocID, e.Size, e.Limit)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "<none>"
	}
	return hash
}
