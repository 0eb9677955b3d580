package inmemdb

import (
	"sync"

	"github.com/trezcool/engage/core/learner"
)

type (
	// DB keeps every table in process memory; all tables share one lock.
	DB struct {
		mutex    sync.RWMutex
		learners map[string]*learner.Learner
		nudges   []learner.Nudge
		events   []learner.Event
	}
)

func Open() *DB {
	return &DB{learners: make(map[string]*learner.Learner)}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.learners = make(map[string]*learner.Learner)
	db.nudges = nil
	db.events = nil
}
