package pipeline

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRunIDsExhausted is returned by an IDList with no ids left.
var ErrRunIDsExhausted = errors.New("run id list exhausted")

// RunIDs names stage runs in the ledger. Every firstlevel, fixedfx, group,
// icc, subsample or upload invocation takes one id; its artifacts and
// subsample draws point back at it.
type RunIDs interface {
	Next() (string, error)
}

// TimeOrderedIDs issues UUIDv7 run ids. The leading timestamp keeps
// `artifacts runs` in start order without a separate sort column.
type TimeOrderedIDs struct{}

// Next returns a fresh hyphenated UUIDv7.
func (TimeOrderedIDs) Next() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IDList hands out known run ids in order, so a test can look up its stage
// run in the ledger by name.
type IDList struct {
	mu  sync.Mutex
	ids []string
}

// NewIDList returns an IDList that yields ids once each.
func NewIDList(ids ...string) *IDList {
	return &IDList{ids: ids}
}

// Next pops the first remaining id.
func (l *IDList) Next() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ids) == 0 {
		return "", ErrRunIDsExhausted
	}
	id := l.ids[0]
	l.ids = l.ids[1:]
	return id, nil
}
