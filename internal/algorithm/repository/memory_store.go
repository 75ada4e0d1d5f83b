package repository

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"algohub/internal/algorithm/model"
)

// MemoryStore keeps everything in maps. It backs dev mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[int64]*model.Submission
	byName   map[string]int64
	tagIDs   map[string]int64
	links    map[int64]map[int64]struct{} // submission -> tag ids
	nextTag  int64
	statuses map[int64]*model.StatusRecord
	testData map[int64]*model.TestData
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:     make(map[int64]*model.Submission),
		byName:   make(map[string]int64),
		tagIDs:   make(map[string]int64),
		links:    make(map[int64]map[int64]struct{}),
		statuses: make(map[int64]*model.StatusRecord),
		testData: make(map[int64]*model.TestData),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[sub.Name]; taken {
		return ErrNameTaken
	}
	if sub.ID == 0 {
		sub.ID = int64(len(s.subs)) + 1
		for s.subs[sub.ID] != nil {
			sub.ID++
		}
	}
	now := s.now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	stored := sub.Clone()
	stored.Tags = nil
	s.subs[sub.ID] = stored
	s.byName[sub.Name] = sub.ID
	s.linkLocked(sub.ID, sub.Tags)
	return nil
}

func (s *MemoryStore) GetSubmissionByName(ctx context.Context, name string) (*model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return s.viewLocked(id), nil
}

func (s *MemoryStore) UpdateSubmission(ctx context.Context, sub *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.subs[sub.ID]
	if !ok {
		return ErrSubmissionNotFound
	}
	if other, taken := s.byName[sub.Name]; taken && other != sub.ID {
		return ErrNameTaken
	}
	delete(s.byName, old.Name)
	sub.CreatedAt = old.CreatedAt
	sub.UpdatedAt = s.now()
	stored := sub.Clone()
	stored.Tags = nil
	s.subs[sub.ID] = stored
	s.byName[sub.Name] = sub.ID
	return nil
}

func (s *MemoryStore) DeleteSubmission(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	delete(s.subs, id)
	delete(s.byName, sub.Name)
	delete(s.links, id)
	return nil
}

func (s *MemoryStore) SearchSubmissions(ctx context.Context, word string) ([]*model.Submission, error) {
	re, err := regexp.Compile("(?i)" + WordPattern(word, `\b`))
	if err != nil {
		return nil, err
	}
	return s.filter(func(sub *model.Submission) bool { return re.MatchString(sub.Name) }), nil
}

func (s *MemoryStore) ListSubmissions(ctx context.Context) ([]*model.Submission, error) {
	return s.filter(func(*model.Submission) bool { return true }), nil
}

func (s *MemoryStore) ListSubmissionsByTag(ctx context.Context, tag string) ([]*model.Submission, error) {
	s.mu.RLock()
	tagID, ok := s.tagIDs[tag]
	s.mu.RUnlock()
	if !ok {
		return []*model.Submission{}, nil
	}
	return s.filter(func(sub *model.Submission) bool {
		_, linked := s.links[sub.ID][tagID]
		return linked
	}), nil
}

func (s *MemoryStore) ListNames(ctx context.Context, tag string) ([]string, error) {
	var subs []*model.Submission
	if tag == "" {
		subs, _ = s.ListSubmissions(ctx)
	} else {
		subs, _ = s.ListSubmissionsByTag(ctx, tag)
	}
	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.Name)
	}
	return names, nil
}

func (s *MemoryStore) ReplaceTags(ctx context.Context, submissionID int64, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[submissionID]; !ok {
		return ErrSubmissionNotFound
	}
	delete(s.links, submissionID)
	s.linkLocked(submissionID, tags)
	return nil
}

func (s *MemoryStore) GarbageCollectTags(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := make(map[int64]struct{})
	for _, set := range s.links {
		for id := range set {
			used[id] = struct{}{}
		}
	}
	var removed int64
	for name, id := range s.tagIDs {
		if _, ok := used[id]; !ok {
			delete(s.tagIDs, name)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) SaveStatus(ctx context.Context, status *model.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status.UpdatedAt = s.now()
	c := *status
	s.statuses[status.ID] = &c
	return nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, id int64) (*model.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[id]
	if !ok {
		return nil, ErrStatusNotFound
	}
	c := *st
	return &c, nil
}

func (s *MemoryStore) DeleteStatus(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, id)
	return nil
}

func (s *MemoryStore) SaveTestData(ctx context.Context, data *model.TestData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *data
	c.Input = append([]byte(nil), data.Input...)
	s.testData[data.ID] = &c
	return nil
}

func (s *MemoryStore) GetTestData(ctx context.Context, id int64) (*model.TestData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td, ok := s.testData[id]
	if !ok {
		return nil, ErrTestDataNotFound
	}
	c := *td
	c.Input = append([]byte(nil), td.Input...)
	return &c, nil
}

func (s *MemoryStore) CountTestDataReferences(ctx context.Context, id int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, sub := range s.subs {
		if sub.TestDataID == id {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteTestData(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.testData, id)
	return nil
}

// TagCount reports how many tags exist.
func (s *MemoryStore) TagCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tagIDs)
}

func (s *MemoryStore) linkLocked(submissionID int64, tags []string) {
	for _, name := range model.NormalizeTags(tags) {
		id, ok := s.tagIDs[name]
		if !ok {
			s.nextTag++
			id = s.nextTag
			s.tagIDs[name] = id
		}
		if s.links[submissionID] == nil {
			s.links[submissionID] = make(map[int64]struct{})
		}
		s.links[submissionID][id] = struct{}{}
	}
}

func (s *MemoryStore) viewLocked(id int64) *model.Submission {
	out := s.subs[id].Clone()
	names := make(map[int64]string, len(s.tagIDs))
	for name, tid := range s.tagIDs {
		names[tid] = name
	}
	out.Tags = []string{}
	for tid := range s.links[id] {
		out.Tags = append(out.Tags, names[tid])
	}
	sort.Strings(out.Tags)
	return out
}

func (s *MemoryStore) filter(keep func(*model.Submission) bool) []*model.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Submission{}
	for id, sub := range s.subs {
		if keep(sub) {
			out = append(out, s.viewLocked(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ Store = (*MemoryStore)(nil)
