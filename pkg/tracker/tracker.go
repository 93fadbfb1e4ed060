// Package tracker keeps the acceptance criteria of features and their
// tracking status.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/vloop/internal/fileutil"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// minWords is the shortest description accepted as concrete.
const minWords = 4

// vaguePhrases are statements that cannot be observed.
var vaguePhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(it\s+)?(should\s+)?works?(\s+(correctly|properly|fine|well))?\s*\.?\s*$`),
	regexp.MustCompile(`(?i)\b(works|working)\s+(correctly|properly|fine|as expected)\b`),
	regexp.MustCompile(`(?i)\bshould\s+work\b`),
	regexp.MustCompile(`(?i)\b(looks?|feels?)\s+(good|nice|right|ok(ay)?)\b`),
	regexp.MustCompile(`(?i)\b(is|be)\s+(fixed|done|better|improved)\b`),
	regexp.MustCompile(`(?i)\bno\s+(bugs|issues|problems)\b`),
}

// ValidateDescription rejects criteria that do not describe an observable
// outcome.
func ValidateDescription(desc string) error {
	d := strings.TrimSpace(desc)
	if d == "" {
		return fault.New(fault.EVagueCriterion, "criterion is empty")
	}
	for _, re := range vaguePhrases {
		if re.MatchString(d) {
			return fault.Newf(fault.EVagueCriterion,
				"criterion %q is not observable; describe what a user sees or what a request returns", d)
		}
	}
	if len(strings.Fields(d)) < minWords {
		return fault.Newf(fault.EVagueCriterion,
			"criterion %q is too short to verify; describe the action and the expected result", d)
	}
	return nil
}

// Tracker stores criteria in a JSON file.
type Tracker struct {
	mu       sync.RWMutex
	path     string
	criteria map[string]*sdk.Criterion
}

// file is the persisted layout.
type file struct {
	Version  int              `json:"version"`
	Criteria []*sdk.Criterion `json:"criteria"`
}

// Open loads the tracker at path. A missing file starts empty.
func Open(path string) (*Tracker, error) {
	t := &Tracker{
		path:     path,
		criteria: make(map[string]*sdk.Criterion),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read criteria: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fault.Wrap(fault.EDecode, "parse "+path, err)
	}
	for _, c := range f.Criteria {
		t.criteria[c.ID] = c
	}
	return t, nil
}

// NewMemory creates a tracker that is never written to disk.
func NewMemory() *Tracker {
	return &Tracker{criteria: make(map[string]*sdk.Criterion)}
}

// Add records a new criterion for feature.
func (t *Tracker) Add(feature, description string) (*sdk.Criterion, error) {
	if strings.TrimSpace(feature) == "" {
		return nil, fault.New(fault.EUsage, "criterion needs a feature")
	}
	if err := ValidateDescription(description); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c := sdk.NewCriterion(strings.TrimSpace(feature), strings.TrimSpace(description))
	t.criteria[c.ID] = c
	if err := t.saveLocked(); err != nil {
		delete(t.criteria, c.ID)
		return nil, err
	}
	clone := *c
	return &clone, nil
}

// Get returns a criterion by id or id prefix.
func (t *Tracker) Get(id string) (*sdk.Criterion, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, err := t.findLocked(id)
	if err != nil {
		return nil, err
	}
	clone := *c
	return &clone, nil
}

// Start marks a criterion in progress.
func (t *Tracker) Start(id string) (*sdk.Criterion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.findLocked(id)
	if err != nil {
		return nil, err
	}
	prev := *c
	c.Start()
	if err := t.saveLocked(); err != nil {
		*c = prev
		return nil, err
	}
	clone := *c
	return &clone, nil
}

// Complete marks a criterion completed. It requires a run of the same
// feature that reached Done, so a criterion is never completed on the
// strength of a stage that did not execute.
func (t *Tracker) Complete(id string, run *loop.Run) (*sdk.Criterion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.findLocked(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fault.Newf(fault.ENotVerified, "criterion %s has no verification run", sdk.ShortID(c.ID))
	}
	snap := run.Clone()
	if snap.Feature != c.Feature {
		return nil, fault.Newf(fault.ENotVerified,
			"run %s verified feature %q, criterion belongs to %q", sdk.ShortID(snap.ID), snap.Feature, c.Feature)
	}
	if !snap.IsDone() {
		return nil, fault.Newf(fault.ENotVerified,
			"run %s is at %s; every mandatory stage must pass first", sdk.ShortID(snap.ID), snap.Stage())
	}
	if missing := snap.Unverified(); len(missing) > 0 {
		return nil, fault.Newf(fault.ENotVerified,
			"run %s has no passing result for %v", sdk.ShortID(snap.ID), missing)
	}

	prev := *c
	c.Complete(snap.ID)
	if err := t.saveLocked(); err != nil {
		*c = prev
		return nil, err
	}
	clone := *c
	return &clone, nil
}

// Remove deletes a criterion.
func (t *Tracker) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.findLocked(id)
	if err != nil {
		return err
	}
	delete(t.criteria, c.ID)
	if err := t.saveLocked(); err != nil {
		t.criteria[c.ID] = c
		return err
	}
	return nil
}

// List returns criteria for feature, or all when feature is empty, ordered
// by creation time.
func (t *Tracker) List(feature string) []sdk.Criterion {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]sdk.Criterion, 0, len(t.criteria))
	for _, c := range t.criteria {
		if feature == "" || c.Feature == feature {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Pending returns criteria of feature that are not completed.
func (t *Tracker) Pending(feature string) []sdk.Criterion {
	var out []sdk.Criterion
	for _, c := range t.List(feature) {
		if c.Status.IsPending() {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tracker) findLocked(id string) (*sdk.Criterion, error) {
	if c, ok := t.criteria[id]; ok {
		return c, nil
	}
	var match *sdk.Criterion
	for key, c := range t.criteria {
		if id != "" && strings.HasPrefix(key, id) {
			if match != nil {
				return nil, fault.Newf(fault.EUsage, "criterion id %q is ambiguous", id)
			}
			match = c
		}
	}
	if match == nil {
		return nil, fault.Newf(fault.ECriterionNotFound, "criterion %q not found", id)
	}
	return match, nil
}

func (t *Tracker) saveLocked() error {
	if t.path == "" {
		return nil
	}
	f := file{Version: 1, Criteria: make([]*sdk.Criterion, 0, len(t.criteria))}
	for _, c := range t.criteria {
		f.Criteria = append(f.Criteria, c)
	}
	sort.Slice(f.Criteria, func(i, j int) bool { return f.Criteria[i].ID < f.Criteria[j].ID })

	if err := fileutil.WriteJSON(t.path, f); err != nil {
		return fmt.Errorf("save criteria: %w", err)
	}
	return nil
}

// Stats counts criteria by status.
func (t *Tracker) Stats(feature string) map[sdk.CriterionStatus]int {
	out := map[sdk.CriterionStatus]int{
		sdk.CriterionNotStarted: 0,
		sdk.CriterionInProgress: 0,
		sdk.CriterionCompleted:  0,
	}
	for _, c := range t.List(feature) {
		out[c.Status]++
	}
	return out
}
