// Package domain holds the diary's core types and the in-memory activity store.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrValidationFailed indicates an empty field or an invalid time range.
	ErrValidationFailed = errors.New("validation failed")
	// ErrTimeConflict indicates an overlapping range on the same date.
	ErrTimeConflict = errors.New("time conflict with an existing activity")
	// ErrNotFound is returned when a mutation references an unknown activity id.
	ErrNotFound = errors.New("activity not found")
)

// FilterAll is the sentinel date filter meaning "no filtering".
const FilterAll = "all"

// Origin tags where a store mutation came from, so the sync bridge can tell
// local edits apart from inbound snapshot replacements without a boolean flag.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// ActivityInput carries the user-entered fields of an add or update.
type ActivityInput struct {
	Date        string
	StartTime   string
	EndTime     string
	Description string
}

// Store is the per-session ordered collection of activities. The sequence is
// kept sorted ascending by (date, start time) after every mutation. All
// methods are safe for concurrent use; each mutation runs to completion.
type Store struct {
	mu         sync.Mutex
	activities []Activity
	onMutate   func(Origin)
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// OnMutation registers the single observer notified after every mutation.
// The callback runs outside the store's lock.
func (s *Store) OnMutation(fn func(Origin)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMutate = fn
}

// Add validates the input, rejects overlaps with existing same-date records,
// assigns a fresh id and inserts the activity in sorted position.
func (s *Store) Add(input ActivityInput) (Activity, error) {
	if _, err := validateInput(input); err != nil {
		return Activity{}, err
	}

	s.mu.Lock()
	if err := s.checkConflict(input, ""); err != nil {
		s.mu.Unlock()
		return Activity{}, err
	}

	activity := Activity{
		ID:          uuid.NewString(),
		Date:        input.Date,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
		Description: input.Description,
	}
	s.activities = append(s.activities, activity)
	sortActivities(s.activities)
	notify := s.onMutate
	s.mu.Unlock()

	if notify != nil {
		notify(OriginLocal)
	}
	return activity, nil
}

// Update re-validates like Add, with the record being updated excluded from
// the conflict check, and replaces it in place.
func (s *Store) Update(id string, input ActivityInput) (Activity, error) {
	if _, err := validateInput(input); err != nil {
		return Activity{}, err
	}

	s.mu.Lock()
	index := s.indexOf(id)
	if index < 0 {
		s.mu.Unlock()
		return Activity{}, ErrNotFound
	}
	if err := s.checkConflict(input, id); err != nil {
		s.mu.Unlock()
		return Activity{}, err
	}

	activity := Activity{
		ID:          id,
		Date:        input.Date,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
		Description: input.Description,
	}
	s.activities[index] = activity
	sortActivities(s.activities)
	notify := s.onMutate
	s.mu.Unlock()

	if notify != nil {
		notify(OriginLocal)
	}
	return activity, nil
}

// Delete removes the activity with the given id. Confirmation is the
// caller's responsibility; the store performs no interaction of its own.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	index := s.indexOf(id)
	if index < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.activities = append(s.activities[:index], s.activities[index+1:]...)
	notify := s.onMutate
	s.mu.Unlock()

	if notify != nil {
		notify(OriginLocal)
	}
	return nil
}

// List returns the activities matching the date filter in stored order.
// FilterAll returns everything.
func (s *Store) List(dateFilter string) []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterByDate(s.activities, dateFilter)
}

// UniqueDates returns the ascending distinct dates present in the store.
func (s *Store) UniqueDates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UniqueDates(s.activities)
}

// Len reports the number of stored activities.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activities)
}

// Snapshot captures the current contents as a persistable document.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Activities:  append([]Activity(nil), s.activities...),
		LastUpdated: time.Now().UTC(),
	}
}

// ReplaceAll swaps the entire contents for the snapshot's activities,
// re-established in sorted order, and reports the mutation with the given
// origin. Remote-origin replacements never trigger an outbound write.
func (s *Store) ReplaceAll(snapshot Snapshot, origin Origin) {
	s.mu.Lock()
	s.activities = append([]Activity(nil), snapshot.Activities...)
	sortActivities(s.activities)
	notify := s.onMutate
	s.mu.Unlock()

	if notify != nil {
		notify(origin)
	}
}

// Clear discards all in-memory records without notifying the observer.
// Used on session teardown; the persisted copy remains externally.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = nil
}

func (s *Store) indexOf(id string) int {
	for i, a := range s.activities {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// checkConflict must be called with the lock held. excludeID is the id of the
// record being updated, empty on create.
func (s *Store) checkConflict(input ActivityInput, excludeID string) error {
	candidate, err := ParseTimeRange(input.StartTime, input.EndTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	for _, existing := range s.activities {
		if existing.ID == excludeID || existing.Date != input.Date {
			continue
		}
		existingRange, err := existing.Range()
		if err != nil {
			// Records delivered by a remote snapshot are applied as-is and
			// may carry clock strings this build cannot parse; they cannot
			// conflict with anything.
			continue
		}
		if candidate.Overlaps(existingRange) {
			return ErrTimeConflict
		}
	}
	return nil
}

func validateInput(input ActivityInput) (TimeRange, error) {
	if strings.TrimSpace(input.Date) == "" {
		return TimeRange{}, fmt.Errorf("%w: date is required", ErrValidationFailed)
	}
	if strings.TrimSpace(input.Description) == "" {
		return TimeRange{}, fmt.Errorf("%w: description is required", ErrValidationFailed)
	}
	if strings.TrimSpace(input.StartTime) == "" || strings.TrimSpace(input.EndTime) == "" {
		return TimeRange{}, fmt.Errorf("%w: start and end times are required", ErrValidationFailed)
	}
	r, err := ParseTimeRange(input.StartTime, input.EndTime)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return r, nil
}

func sortActivities(activities []Activity) {
	sort.SliceStable(activities, func(i, j int) bool {
		if activities[i].Date != activities[j].Date {
			return activities[i].Date < activities[j].Date
		}
		return activities[i].StartTime < activities[j].StartTime
	})
}

// DateGroup is one date's worth of activities in stored (time) order.
type DateGroup struct {
	Date       string
	Activities []Activity
}

// GroupByDate buckets activities by date. Group order follows the first
// occurrence of each date in the input; records keep their relative order.
func GroupByDate(activities []Activity) []DateGroup {
	indexByDate := make(map[string]int)
	groups := make([]DateGroup, 0)
	for _, a := range activities {
		i, ok := indexByDate[a.Date]
		if !ok {
			i = len(groups)
			indexByDate[a.Date] = i
			groups = append(groups, DateGroup{Date: a.Date})
		}
		groups[i].Activities = append(groups[i].Activities, a)
	}
	return groups
}

// FilterByDate returns the activities on the given date, or all of them for
// the FilterAll sentinel.
func FilterByDate(activities []Activity, date string) []Activity {
	if date == FilterAll {
		return append([]Activity(nil), activities...)
	}
	out := make([]Activity, 0)
	for _, a := range activities {
		if a.Date == date {
			out = append(out, a)
		}
	}
	return out
}

// UniqueDates returns the distinct dates in ascending order.
func UniqueDates(activities []Activity) []string {
	seen := make(map[string]struct{})
	dates := make([]string, 0)
	for _, a := range activities {
		if _, ok := seen[a.Date]; ok {
			continue
		}
		seen[a.Date] = struct{}{}
		dates = append(dates, a.Date)
	}
	sort.Strings(dates)
	return dates
}
