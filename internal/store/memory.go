package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/impostorpay/impostor-bot/internal/domain"
)

// Memory is a development and test implementation of Store. It mirrors
// the postgres semantics, including the uniqueness sentinels, so engine
// and router tests exercise the same contract.
type Memory struct {
	mu sync.RWMutex

	users        map[string]*domain.User        // id -> user
	usersByPhone map[string]string              // phone -> id
	matches      map[string]*domain.Match       // id -> match
	matchByCode  map[string]string              // code -> id
	participants map[string]*domain.Participant // id -> participant
	partIndex    map[string]string              // matchID|userID -> id
	transactions map[string]*domain.Transaction // id -> transaction
	votes        []*domain.Vote
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]*domain.User),
		usersByPhone: make(map[string]string),
		matches:      make(map[string]*domain.Match),
		matchByCode:  make(map[string]string),
		participants: make(map[string]*domain.Participant),
		partIndex:    make(map[string]string),
		transactions: make(map[string]*domain.Transaction),
	}
}

func partKey(matchID, userID string) string { return matchID + "|" + userID }

func (s *Memory) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByPhone[u.Phone]; ok {
		return ErrDuplicateUser
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usersByPhone[u.Phone] = u.ID
	return nil
}

func (s *Memory) UserByPhone(_ context.Context, phone string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByPhone[phone]
	if !ok {
		return nil, nil
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Memory) UserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) CreateMatch(_ context.Context, m *domain.Match, creator *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := strings.ToUpper(strings.TrimSpace(m.Code))
	if _, ok := s.matchByCode[code]; ok {
		return ErrCodeTaken
	}
	mc := *m
	pc := *creator
	s.matches[m.ID] = &mc
	s.matchByCode[code] = m.ID
	s.participants[creator.ID] = &pc
	s.partIndex[partKey(creator.MatchID, creator.UserID)] = creator.ID
	return nil
}

func (s *Memory) MatchByID(_ context.Context, id string) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *Memory) MatchByCode(_ context.Context, code string) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.matchByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, nil
	}
	cp := *s.matches[id]
	return &cp, nil
}

func (s *Memory) FindOpenMatch(_ context.Context) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []*domain.Match
	for _, m := range s.matches {
		if m.Status == domain.MatchWaitingPayment {
			open = append(open, m)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	cp := *open[0]
	return &cp, nil
}

func (s *Memory) FinishMatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.matches[id]; ok {
		m.Status = domain.MatchFinished
	}
	return nil
}

func (s *Memory) CreateParticipant(_ context.Context, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := partKey(p.MatchID, p.UserID)
	if _, ok := s.partIndex[key]; ok {
		return ErrDuplicateParticipant
	}
	cp := *p
	s.participants[p.ID] = &cp
	s.partIndex[key] = p.ID
	return nil
}

func (s *Memory) Participant(_ context.Context, matchID, userID string) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.partIndex[partKey(matchID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *s.participants[id]
	return &cp, nil
}

func (s *Memory) ActiveParticipantByPhone(_ context.Context, phone string) (*domain.Participant, *domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid, ok := s.usersByPhone[phone]
	if !ok {
		return nil, nil, nil
	}
	var (
		best  *domain.Participant
		match *domain.Match
	)
	for _, p := range s.participants {
		if p.UserID != uid {
			continue
		}
		m := s.matches[p.MatchID]
		if m == nil || m.Status.Terminal() {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best, match = p, m
		}
	}
	if best == nil {
		return nil, nil, nil
	}
	pc, mc := *best, *match
	return &pc, &mc, nil
}

func (s *Memory) SetParticipantScratch(_ context.Context, participantID, scratch string, status domain.ParticipantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return ErrNotFound
	}
	p.ScratchKey = scratch
	p.Status = status
	return nil
}

func (s *Memory) Roster(_ context.Context, matchID string) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []Member
	for _, p := range s.participants {
		if p.MatchID != matchID {
			continue
		}
		u := s.users[p.UserID]
		if u == nil {
			continue
		}
		members = append(members, Member{Participant: *p, User: *u})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Participant.CreatedAt.Before(members[j].Participant.CreatedAt)
	})
	return members, nil
}

func (s *Memory) ConfirmParticipantKey(_ context.Context, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.participants[p.ID]
	if !ok {
		return ErrNotFound
	}
	u, ok := s.users[stored.UserID]
	if !ok {
		return ErrNotFound
	}
	u.PixKey = stored.ScratchKey
	stored.ScratchKey = ""
	stored.Status = domain.ParticipantReady
	return nil
}

func (s *Memory) ActivateMatch(_ context.Context, matchID, secretWord, impostorUserID, impostorParticipantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	p, ok := s.participants[impostorParticipantID]
	if !ok {
		return ErrNotFound
	}
	p.Role = domain.RoleImpostor
	m.Status = domain.MatchActive
	m.SecretWord = secretWord
	m.ImpostorID = impostorUserID
	return nil
}

func (s *Memory) CreateTransaction(_ context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *Memory) AttachProviderData(_ context.Context, id, externalID, copiaCola string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return ErrNotFound
	}
	t.ExternalID = externalID
	t.CopiaCola = copiaCola
	return nil
}

func (s *Memory) PendingEntryFee(_ context.Context, userID, matchID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.Transaction
	for _, t := range s.transactions {
		if t.UserID != userID || t.MatchID != matchID {
			continue
		}
		if t.Type != domain.TransactionEntryFee || t.Status != domain.TransactionPending {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *Memory) TransactionByExternalID(_ context.Context, externalID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.findByExternal(externalID)
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *Memory) findByExternal(externalID string) *domain.Transaction {
	if externalID == "" {
		return nil
	}
	for _, t := range s.transactions {
		if t.ExternalID == externalID {
			return t
		}
	}
	return nil
}

func (s *Memory) CompleteSettlement(_ context.Context, externalID string) (*domain.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findByExternal(externalID)
	if t == nil {
		return nil, false, nil
	}
	if t.Status != domain.TransactionPending {
		cp := *t
		return &cp, false, nil
	}
	t.Status = domain.TransactionCompleted
	if m, ok := s.matches[t.MatchID]; ok {
		m.Pot += t.Amount
	}
	cp := *t
	return &cp, true, nil
}

func (s *Memory) CountCompletedEntryFees(_ context.Context, matchID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, t := range s.transactions {
		if t.MatchID == matchID && t.Type == domain.TransactionEntryFee && t.Status == domain.TransactionCompleted {
			seen[t.UserID] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *Memory) CreateVote(_ context.Context, v *domain.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.votes = append(s.votes, &cp)
	return nil
}

// Votes returns a snapshot of recorded votes for assertions in tests.
func (s *Memory) Votes(matchID string) []domain.Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Vote
	for _, v := range s.votes {
		if v.MatchID == matchID {
			out = append(out, *v)
		}
	}
	return out
}
