// Package store owns the thread collection for one owning identity. It is
// the single source of truth for threads and messages; all mutation goes
// through its operations so the collection invariants (idempotent append,
// per-thread message dedup, recency ordering) hold regardless of caller.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadline-ai/chat-gateway/internal/model"
	"github.com/threadline-ai/chat-gateway/pkg/metrics"
)

// titleMaxRunes caps auto-derived thread titles.
const titleMaxRunes = 48

// Store holds one owner's threads and the current selection. Operations on
// unknown thread or message ids are no-ops, not errors: deleting a thread
// while a rename is in flight is an expected race and must degrade
// gracefully.
type Store struct {
	mu        sync.RWMutex
	threads   []*model.Thread
	currentID string
}

// New creates a store seeded with the given threads. The input is
// normalized the way a load is: messages deduplicated by id (first
// occurrence kept) and threads sorted by updatedAt descending.
func New(threads []model.Thread) *Store {
	s := &Store{}
	s.Replace(threads)
	return s
}

// CreateThread creates an empty thread, inserts it at the front of the
// collection and marks it current. Never fails.
func (s *Store) CreateThread(title string) string {
	now := time.Now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultThreadTitle
	}

	t := &model.Thread{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     title,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.threads = append([]*model.Thread{t}, s.threads...)
	s.currentID = t.ID
	s.mu.Unlock()

	metrics.ThreadsTotal.Inc()

	return t.ID
}

// Thread returns a copy of the thread with the given id, or nil.
func (s *Store) Thread(id string) *model.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(id).Clone()
}

// HasThread reports whether a thread with the given id exists.
func (s *Store) HasThread(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(id) != nil
}

// CurrentThread returns a copy of the currently selected thread, or nil.
func (s *Store) CurrentThread() *model.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentID == "" {
		return nil
	}
	return s.find(s.currentID).Clone()
}

// CurrentThreadID returns the id of the current selection, or "".
func (s *Store) CurrentThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// SetCurrentThread changes the selection. It is a pure selection change and
// does not validate existence; validated selection is the synchronizer's job.
func (s *Store) SetCurrentThread(id string) {
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
}

// Threads returns copies of all threads, most recently updated first.
func (s *Store) Threads() []model.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, *t.Clone())
	}
	sortByRecency(out)
	return out
}

// ThreadCount returns the number of threads.
func (s *Store) ThreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// MostRecentThreadID returns the id of the most recently updated thread,
// or "" when the collection is empty.
func (s *Store) MostRecentThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mostRecentLocked()
}

// AddMessage appends a message to a thread and returns the message id. When
// explicitID is supplied and a message with that id already exists in the
// thread, the call silently no-ops (idempotent append): retried or
// duplicate-triggered appends must not corrupt the log. Returns "" when the
// thread does not exist.
func (s *Store) AddMessage(threadID string, role model.Role, content string, explicitID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(threadID)
	if t == nil {
		return ""
	}

	id := explicitID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	} else {
		for i := range t.Messages {
			if t.Messages[i].ID == id {
				return id
			}
		}
	}

	t.Messages = append(t.Messages, model.Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	t.UpdatedAt = time.Now()

	if role == model.RoleUser && (t.Title == "" || t.Title == model.DefaultThreadTitle) {
		if title := deriveTitle(content); title != "" {
			t.Title = title
		}
	}

	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()

	return id
}

// UpdateMessage replaces a message's content in full. Streaming deltas land
// here as the whole accumulated text, not an increment. No-op when the
// thread or message id is unknown.
func (s *Store) UpdateMessage(threadID, messageID, newContent string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(threadID)
	if t == nil {
		return
	}
	for i := range t.Messages {
		if t.Messages[i].ID == messageID {
			t.Messages[i].Content = newContent
			t.UpdatedAt = time.Now()
			return
		}
	}
}

// RemoveMessage deletes a message from a thread. Used to discard an
// assistant placeholder whose stream failed before producing any text.
func (s *Store) RemoveMessage(threadID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(threadID)
	if t == nil {
		return
	}
	for i := range t.Messages {
		if t.Messages[i].ID == messageID {
			t.Messages = append(t.Messages[:i], t.Messages[i+1:]...)
			t.UpdatedAt = time.Now()
			return
		}
	}
}

// RenameThread sets a thread's title, trimming input and falling back to the
// default title when the trimmed result is empty.
func (s *Store) RenameThread(threadID, newTitle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(threadID)
	if t == nil {
		return
	}
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		newTitle = model.DefaultThreadTitle
	}
	t.Title = newTitle
	t.UpdatedAt = time.Now()
}

// DeleteThread removes a thread. When it was the current selection, the most
// recently updated remaining thread becomes current, or no thread when the
// collection is now empty.
func (s *Store) DeleteThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, t := range s.threads {
		if t.ID == threadID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	s.threads = append(s.threads[:idx], s.threads[idx+1:]...)

	if s.currentID == threadID {
		s.currentID = s.mostRecentLocked()
	}
}

// Replace swaps in a freshly loaded collection: messages deduplicated by id
// per thread (first occurrence kept), threads sorted by updatedAt
// descending. A selection pointing at a thread that no longer exists is
// cleared.
func (s *Store) Replace(threads []model.Thread) {
	normalized := Normalize(threads)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = make([]*model.Thread, 0, len(normalized))
	for i := range normalized {
		s.threads = append(s.threads, &normalized[i])
	}
	if s.currentID != "" && s.find(s.currentID) == nil {
		s.currentID = ""
	}
}

// Export returns the collection in its persisted form: deduplicated and
// sorted by recency. The dedup here mirrors load-side dedup deliberately;
// concurrent append + stream-update + reload paths must never write a
// duplicate message id.
func (s *Store) Export() []model.Thread {
	return Normalize(s.Threads())
}

// Normalize deduplicates each thread's messages by id (keeping the first
// occurrence) and sorts threads by updatedAt descending.
func Normalize(threads []model.Thread) []model.Thread {
	out := make([]model.Thread, len(threads))
	copy(out, threads)
	for i := range out {
		out[i].Messages = dedupeMessages(out[i].Messages)
	}
	sortByRecency(out)
	return out
}

func dedupeMessages(msgs []model.Message) []model.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func sortByRecency(threads []model.Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
}

func (s *Store) find(id string) *model.Thread {
	for _, t := range s.threads {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Store) mostRecentLocked() string {
	var best *model.Thread
	for _, t := range s.threads {
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes]) + "..."
	}
	return title
}
