package livestate

import "github.com/expertdesk/livesync/internal/domain"

// LiveQuestions returns every tracked question in first-seen order,
// delivered ones included.
func (s *Store) LiveQuestions() []domain.LiveQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionsLocked(false)
}

// ActiveQuestions returns the questions that have not been delivered yet.
func (s *Store) ActiveQuestions() []domain.LiveQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionsLocked(true)
}

func (s *Store) questionsLocked(activeOnly bool) []domain.LiveQuestion {
	out := make([]domain.LiveQuestion, 0, len(s.order))
	for _, id := range s.order {
		q := s.questions[id]
		if activeOnly && !q.Active() {
			continue
		}
		if q.Expert != nil {
			expert := *q.Expert
			q.Expert = &expert
		}
		out = append(out, q)
	}
	return out
}

// Question returns the question with the given id.
func (s *Store) Question(id string) (domain.LiveQuestion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if ok && q.Expert != nil {
		expert := *q.Expert
		q.Expert = &expert
	}
	return q, ok
}

// RecentAnswers returns up to n answers, most recent first. n <= 0 returns
// everything retained.
func (s *Store) RecentAnswers(n int) []domain.RecentAnswer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answersLocked(n)
}

func (s *Store) answersLocked(n int) []domain.RecentAnswer {
	if n <= 0 || n > s.answers.Len() {
		n = s.answers.Len()
	}
	out := make([]domain.RecentAnswer, 0, n)
	for e := s.answers.Front(); e != nil && len(out) < n; e = e.Next() {
		out = append(out, *e.Value.(*domain.RecentAnswer))
	}
	return out
}

// Notifications returns the unread notification count.
func (s *Store) Notifications() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifications
}

// Credits returns the current credit balance.
func (s *Store) Credits() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credits
}

// Snapshot returns a consistent copy of the whole read model.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Snapshot{
		Questions:     s.questionsLocked(false),
		RecentAnswers: s.answersLocked(0),
		Notifications: s.notifications,
		Credits:       s.credits,
	}
}
