// Package livestate holds the canonical in-memory snapshot of a viewer's
// live questions, recent answers and counters.
//
// The event dispatcher is the only writer. Views read through the query
// methods and observe changes with Subscribe.
package livestate

import (
	"container/list"
	"sort"
	"sync"

	"github.com/expertdesk/livesync/internal/domain"
)

// DefaultAnswerCap is the default retention window for recent answers.
const DefaultAnswerCap = 50

// Listener is notified after every applied mutation.
type Listener func()

// Store is an observable live-state model. Every mutation completes under a
// single lock before listeners are notified, so two events never interleave.
type Store struct {
	mu            sync.RWMutex
	questions     map[string]domain.LiveQuestion
	order         []string                 // question ids in first-seen order
	answers       *list.List               // *domain.RecentAnswer, newest at the front
	answerIndex   map[string]*list.Element // answer id -> element
	answerCap     int
	notifications int
	credits       float64

	listenersMu sync.RWMutex
	listeners   map[int64]Listener
	nextID      int64
}

// New creates an empty store that retains at most answerCap recent answers.
func New(answerCap int) *Store {
	if answerCap <= 0 {
		answerCap = DefaultAnswerCap
	}
	return &Store{
		questions:   make(map[string]domain.LiveQuestion),
		answers:     list.New(),
		answerIndex: make(map[string]*list.Element),
		answerCap:   answerCap,
		listeners:   make(map[int64]Listener),
	}
}

// Subscribe registers l and returns a function that removes it.
// Listeners run synchronously on the writer's goroutine and must not block.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.listenersMu.RLock()
	ids := make([]int64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l()
	}
}

// Seed replaces the whole state with a snapshot from the REST layer.
// It is meant to run before the first live event is applied.
func (s *Store) Seed(snap domain.Snapshot) {
	s.mu.Lock()
	s.questions = make(map[string]domain.LiveQuestion, len(snap.Questions))
	s.order = s.order[:0]
	for _, q := range snap.Questions {
		if q.ID == "" {
			continue
		}
		s.mergeQuestionLocked(q.ID, domain.PatchFrom(q))
	}

	s.answers.Init()
	s.answerIndex = make(map[string]*list.Element, len(snap.RecentAnswers))
	// Snapshot answers are most recent first; push oldest first so the
	// newest ends up at the front.
	for i := len(snap.RecentAnswers) - 1; i >= 0; i-- {
		a := snap.RecentAnswers[i]
		if a.ID == "" {
			continue
		}
		s.putAnswerLocked(a)
	}

	s.notifications = max(snap.Notifications, 0)
	s.credits = snap.Credits
	s.mu.Unlock()

	s.notify()
}

// AddLiveQuestion inserts q, or merges its non-empty fields into the
// existing entry with the same id.
func (s *Store) AddLiveQuestion(q domain.LiveQuestion) {
	s.MergeLiveQuestion(q.ID, domain.PatchFrom(q))
}

// MergeLiveQuestion creates the question with the given id if needed and
// merges patch into it.
func (s *Store) MergeLiveQuestion(id string, patch domain.QuestionPatch) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.mergeQuestionLocked(id, patch)
	s.mu.Unlock()

	s.notify()
}

// UpdateQuestionStatus merges patch into the question with the given id.
// An unknown id is a no-op: under out-of-order delivery a status update can
// arrive before the event that creates the question. It reports whether
// the update was applied.
func (s *Store) UpdateQuestionStatus(id string, patch domain.QuestionPatch) bool {
	s.mu.Lock()
	q, ok := s.questions[id]
	if ok {
		s.questions[id] = patch.Apply(q)
	}
	s.mu.Unlock()

	if ok {
		s.notify()
	}
	return ok
}

func (s *Store) mergeQuestionLocked(id string, patch domain.QuestionPatch) {
	q, ok := s.questions[id]
	if !ok {
		q = domain.LiveQuestion{ID: id}
		s.order = append(s.order, id)
	}
	s.questions[id] = patch.Apply(q)
}

// AddRecentAnswer records a delivered answer and, in the same step, marks
// the live question with the same id as delivered. Answers are immutable:
// a redelivered answer with a retained id is not added a second time. It
// reports whether the answer was new.
func (s *Store) AddRecentAnswer(a domain.RecentAnswer) bool {
	if a.ID == "" {
		return false
	}
	s.mu.Lock()
	_, seen := s.answerIndex[a.ID]
	s.putAnswerLocked(a)
	if q, ok := s.questions[a.ID]; ok {
		q.Status = domain.StatusDelivered
		if a.Timestamp != "" {
			q.Timestamp = a.Timestamp
		}
		s.questions[a.ID] = q
	}
	s.mu.Unlock()

	s.notify()
	return !seen
}

func (s *Store) putAnswerLocked(a domain.RecentAnswer) {
	if _, ok := s.answerIndex[a.ID]; ok {
		return
	}
	s.answerIndex[a.ID] = s.answers.PushFront(&a)
	for s.answers.Len() > s.answerCap {
		oldest := s.answers.Back()
		s.answers.Remove(oldest)
		delete(s.answerIndex, oldest.Value.(*domain.RecentAnswer).ID)
	}
}

// IncrementNotifications adds one unread notification.
func (s *Store) IncrementNotifications() {
	s.mu.Lock()
	s.notifications++
	s.mu.Unlock()

	s.notify()
}

// ResetNotifications clears the unread counter ("mark all read").
func (s *Store) ResetNotifications() {
	s.mu.Lock()
	s.notifications = 0
	s.mu.Unlock()

	s.notify()
}

// SetCredits replaces the balance. The server always sends the new total.
func (s *Store) SetCredits(v float64) {
	s.mu.Lock()
	s.credits = v
	s.mu.Unlock()

	s.notify()
}
