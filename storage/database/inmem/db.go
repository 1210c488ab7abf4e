package inmemdb

import (
	"sort"
	"sync"
	"time"
)

type (
	// DB is a process-local store. All tables share one lock so that
	// a membership change and the lists derived from it are always seen together.
	DB struct {
		mu          sync.RWMutex
		users       map[string]*userRecord
		courses     map[string]*courseRecord
		enrollments []membership
		assistants  []membership
		seq         int64
	}

	membership struct {
		courseID string
		userID   string
		at       time.Time
		seq      int64
	}
)

func Open() *DB {
	return &DB{
		users:   make(map[string]*userRecord),
		courses: make(map[string]*courseRecord),
	}
}

func (db *DB) nextSeq() int64 {
	db.seq++
	return db.seq
}

func hasMember(list []membership, courseID, userID string) bool {
	for _, m := range list {
		if m.courseID == courseID && m.userID == userID {
			return true
		}
	}
	return false
}

// members returns the IDs selected by pick for the memberships matching keep, in (at, seq) order.
func members(list []membership, keep func(m membership) bool, pick func(m membership) string) []string {
	matched := make([]membership, 0)
	for _, m := range list {
		if keep(m) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].at.Equal(matched[j].at) {
			return matched[i].seq < matched[j].seq
		}
		return matched[i].at.Before(matched[j].at)
	})
	ids := make([]string, 0, len(matched))
	for _, m := range matched {
		ids = append(ids, pick(m))
	}
	return ids
}

func dropCourse(list []membership, courseID string) []membership {
	kept := list[:0]
	for _, m := range list {
		if m.courseID != courseID {
			kept = append(kept, m)
		}
	}
	return kept
}
