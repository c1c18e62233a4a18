// Package validation deterministically partitions record sets into
// training and validation groups, persisting the plan so re-runs
// reproduce the same split.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"os"
	"sort"
	"time"
)

// Strategy names a partitioning scheme.
type Strategy string

const (
	Fixed     Strategy = "fixed"
	KFold     Strategy = "k-fold"
	Bootstrap Strategy = "bootstrap"
	None      Strategy = "none"
)

// Partition labels.
const (
	LabelTraining   = "training"
	LabelValidation = "validation"
)

// FoldLabel returns the partition label for fold k.
func FoldLabel(k int) string { return fmt.Sprintf("kfold-%d", k) }

// Params are the strategy parameters a plan is generated from.
type Params struct {
	Strategy Strategy
	Fraction float64 // validation fraction, for fixed and bootstrap
	K        int     // fold count, for k-fold
}

// ErrPlanMismatch indicates a persisted plan no longer matches the current
// record set or parameters; the caller regenerates rather than failing.
var ErrPlanMismatch = errors.New("persisted validation plan does not match record set")

// DuplicateAssignmentError is a programming invariant violation: a record
// assigned to more than one partition. It is fatal to the run.
type DuplicateAssignmentError struct {
	Record string
}

func (e *DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("record %q assigned to more than one partition", e.Record)
}

// Plan is a persisted partitioning of a record set. Records holds the full
// sorted identifier set the plan was generated from; Fixed or Folds hold
// the validation-side assignments depending on strategy.
type Plan struct {
	Strategy Strategy   `json:"strategy"`
	Fraction float64    `json:"fraction,omitempty"`
	K        int        `json:"k,omitempty"`
	Records  []string   `json:"records"`
	Fixed    []string   `json:"fixed,omitempty"`
	Folds    [][]string `json:"k-fold,omitempty"`
}

// seedFrom derives a deterministic shuffle seed from the identifier set,
// so independent generations over the same set order records identically.
func seedFrom(sorted []string) int64 {
	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return int64(h.Sum64())
}

func shuffled(sorted []string, seed int64) []string {
	out := make([]string, len(sorted))
	copy(out, sorted)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Generate creates a new plan for the given record identifiers. Fixed and
// k-fold plans are fully deterministic in the identifier set; bootstrap
// plans are randomized but the selection is recorded in the plan so it is
// reproducible from the persisted file.
func Generate(ids []string, p Params) (*Plan, error) {
	if len(ids) == 0 {
		return nil, errors.New("no records to partition")
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return nil, &DuplicateAssignmentError{Record: sorted[i]}
		}
	}

	plan := &Plan{Strategy: p.Strategy, Records: sorted}

	switch p.Strategy {
	case None:
		return plan, nil

	case Fixed, Bootstrap:
		if p.Fraction <= 0 || p.Fraction >= 1 {
			return nil, fmt.Errorf("validation fraction %g outside (0,1)", p.Fraction)
		}
		plan.Fraction = p.Fraction
		seed := seedFrom(sorted)
		if p.Strategy == Bootstrap {
			seed = time.Now().UnixNano()
		}
		order := shuffled(sorted, seed)
		numVal := int(p.Fraction * float64(len(order)))
		plan.Fixed = order[:numVal]
		return plan, nil

	case KFold:
		if p.K < 2 {
			return nil, fmt.Errorf("k-fold requires k >= 2, got %d", p.K)
		}
		plan.K = p.K
		order := shuffled(sorted, seedFrom(sorted))
		plan.Folds = splitFolds(order, p.K)
		return plan, nil

	default:
		return nil, fmt.Errorf("unknown validation strategy %q", p.Strategy)
	}
}

// splitFolds partitions records into n folds of equal size, distributing
// the remainder to the first folds.
func splitFolds(records []string, n int) [][]string {
	k, m := len(records)/n, len(records)%n
	folds := make([][]string, n)
	for i := 0; i < n; i++ {
		lo := i*k + min(i, m)
		hi := (i+1)*k + min(i+1, m)
		folds[i] = records[lo:hi]
	}
	return folds
}

// Matches reports whether the plan was generated from the same record set
// and strategy parameters.
func (pl *Plan) Matches(ids []string, p Params) bool {
	if pl.Strategy != p.Strategy {
		return false
	}
	switch p.Strategy {
	case Fixed, Bootstrap:
		if pl.Fraction != p.Fraction {
			return false
		}
	case KFold:
		if pl.K != p.K {
			return false
		}
	}

	if len(pl.Records) != len(ids) {
		return false
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	for i := range sorted {
		if sorted[i] != pl.Records[i] {
			return false
		}
	}
	return true
}

// Validate checks the exact-cover invariant: every record appears in
// exactly one partition.
func (pl *Plan) Validate() error {
	known := make(map[string]bool, len(pl.Records))
	for _, id := range pl.Records {
		known[id] = false
	}

	assign := func(id string) error {
		seen, ok := known[id]
		if !ok {
			return fmt.Errorf("plan assigns unknown record %q", id)
		}
		if seen {
			return &DuplicateAssignmentError{Record: id}
		}
		known[id] = true
		return nil
	}

	switch pl.Strategy {
	case None:
		return nil
	case Fixed, Bootstrap:
		for _, id := range pl.Fixed {
			if err := assign(id); err != nil {
				return err
			}
		}
		// Remaining records are implicitly training; coverage holds.
		return nil
	case KFold:
		for _, fold := range pl.Folds {
			for _, id := range fold {
				if err := assign(id); err != nil {
					return err
				}
			}
		}
		for id, seen := range known {
			if !seen {
				return fmt.Errorf("record %q missing from all folds", id)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown strategy %q in plan", pl.Strategy)
	}
}

// Split returns the training and validation identifier lists. For k-fold
// plans, foldIndex selects the validation fold; it is ignored otherwise.
func (pl *Plan) Split(foldIndex int) (training, val []string, err error) {
	switch pl.Strategy {
	case None:
		return pl.Records, nil, nil
	case Fixed, Bootstrap:
		inVal := make(map[string]bool, len(pl.Fixed))
		for _, id := range pl.Fixed {
			inVal[id] = true
		}
		for _, id := range pl.Records {
			if inVal[id] {
				val = append(val, id)
			} else {
				training = append(training, id)
			}
		}
		return training, val, nil
	case KFold:
		if foldIndex < 0 || foldIndex >= len(pl.Folds) {
			return nil, nil, fmt.Errorf("fold index %d outside 0..%d", foldIndex, len(pl.Folds)-1)
		}
		for k, fold := range pl.Folds {
			if k == foldIndex {
				val = append(val, fold...)
			} else {
				training = append(training, fold...)
			}
		}
		return training, val, nil
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q in plan", pl.Strategy)
	}
}

// Labels returns the partition label for every record.
func (pl *Plan) Labels() map[string]string {
	labels := make(map[string]string, len(pl.Records))
	switch pl.Strategy {
	case Fixed, Bootstrap:
		for _, id := range pl.Records {
			labels[id] = LabelTraining
		}
		for _, id := range pl.Fixed {
			labels[id] = LabelValidation
		}
	case KFold:
		for k, fold := range pl.Folds {
			for _, id := range fold {
				labels[id] = FoldLabel(k)
			}
		}
	}
	return labels
}

// LoadPlan reads a persisted plan.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pl Plan
	if err := json.Unmarshal(data, &pl); err != nil {
		return nil, fmt.Errorf("parse validation plan %s: %w", path, err)
	}
	return &pl, nil
}

// Save persists the plan atomically.
func (pl *Plan) Save(path string) error {
	data, err := json.MarshalIndent(pl, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Resolve loads the persisted plan at path and reuses it when it matches
// the record set and parameters; otherwise a new plan fully replaces it.
// Returns the plan and whether a previously persisted plan was reused.
func Resolve(path string, ids []string, p Params) (*Plan, bool, error) {
	if p.Strategy == None {
		pl, err := Generate(ids, p)
		return pl, false, err
	}

	if stored, err := LoadPlan(path); err == nil {
		if stored.Matches(ids, p) {
			if verr := stored.Validate(); verr != nil {
				var dup *DuplicateAssignmentError
				if errors.As(verr, &dup) {
					return nil, false, verr // invariant violation, never silently resolved
				}
				log.Printf("Stored validation plan invalid (%v): %v; regenerating", path, verr)
			} else {
				return stored, true, nil
			}
		} else {
			log.Printf("%v (%s); regenerating", ErrPlanMismatch, path)
		}
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}

	pl, err := Generate(ids, p)
	if err != nil {
		return nil, false, err
	}
	if err := pl.Validate(); err != nil {
		return nil, false, err
	}
	if err := pl.Save(path); err != nil {
		return nil, false, err
	}
	return pl, false, nil
}
