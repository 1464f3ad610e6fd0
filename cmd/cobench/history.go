package main

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

// record is one benchmark run as stored in the history file.
type record struct {
	Time       time.Time `json:"time"`
	Threads    int       `json:"threads"`
	Coroutines int       `json:"coroutines"`
	Loops      int       `json:"loops"`
	Mode       string    `json:"mode"`
	Queue      string    `json:"queue"`
	Total      int64     `json:"total"`
	ElapsedUS  int64     `json:"elapsed_us"`
}

func (r record) sameShape(o record) bool {
	return r.Threads == o.Threads && r.Coroutines == o.Coroutines && r.Loops == o.Loops && r.Mode == o.Mode && r.Queue == o.Queue
}

// recordRun appends rec to the history at path and returns the fastest run
// with the same parameters, rec included, and how many such runs there are.
func recordRun(path string, rec record) (record, int, error) {
	db, err := bolt.Open(path, 0o666, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return record{}, 0, err
	}
	defer db.Close()

	value, err := json.Marshal(rec)
	if err != nil {
		return record{}, 0, err
	}

	best := rec
	runs := 0
	if err := db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(runsBucket)
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		if err := bucket.Put(runKey(seq), value); err != nil {
			return err
		}

		return bucket.ForEach(func(k, v []byte) error {
			var old record
			if err := json.Unmarshal(v, &old); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			if !old.sameShape(rec) {
				return nil
			}
			runs++
			if old.ElapsedUS < best.ElapsedUS {
				best = old
			}
			return nil
		})
	}); err != nil {
		return record{}, 0, err
	}
	return best, runs, nil
}

// runKey orders runs by insertion.
func runKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// loadRuns returns every run in the history at path, oldest first.
func loadRuns(path string) ([]record, error) {
	db, err := bolt.Open(path, 0o666, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var out []record
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}
