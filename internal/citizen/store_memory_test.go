package citizen

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func (s *MemoryStoreSuite) seed() *Citizen {
	c := New(id.NewCitizenID(), id.NewActorID(), json.RawMessage(`{"name":"Asha"}`), time.Now())
	s.Require().NoError(s.store.Create(context.Background(), c))
	return c
}

func (s *MemoryStoreSuite) TestCreate() {
	s.Run("stores a new citizen", func() {
		c := s.seed()
		got, err := s.store.Get(context.Background(), c.ID)
		s.NoError(err)
		s.Equal(c.ID, got.ID)
		s.Equal(StatusPending, got.Status)
	})

	s.Run("duplicate id conflicts", func() {
		c := s.seed()
		err := s.store.Create(context.Background(), c)
		s.ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *MemoryStoreSuite) TestGet() {
	s.Run("missing citizen returns not found", func() {
		_, err := s.store.Get(context.Background(), id.NewCitizenID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned value is isolated from store state", func() {
		c := s.seed()
		got, err := s.store.Get(context.Background(), c.ID)
		s.Require().NoError(err)

		got.Status = StatusApproved
		got.StatusHistory = append(got.StatusHistory, StatusChange{Status: StatusApproved})

		again, err := s.store.Get(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(StatusPending, again.Status)
		s.Len(again.StatusHistory, 1)
	})
}

func (s *MemoryStoreSuite) TestUpdate() {
	s.Run("missing citizen returns not found", func() {
		c := New(id.NewCitizenID(), id.NewActorID(), nil, time.Now())
		s.ErrorIs(s.store.Update(context.Background(), c), sentinel.ErrNotFound)
	})

	s.Run("persists the mutated record", func() {
		c := s.seed()
		s.Require().NoError(ApplyTransition(c, StatusApproved, id.NewActorID(), TransitionPayload{}, time.Now()))
		s.Require().NoError(s.store.Update(context.Background(), c))

		got, err := s.store.Get(context.Background(), c.ID)
		s.NoError(err)
		s.Equal(StatusApproved, got.Status)
		s.Len(got.StatusHistory, 2)
	})
}

func (s *MemoryStoreSuite) TestList() {
	s.Run("filters by status", func() {
		a := s.seed()
		b := s.seed()
		s.Require().NoError(ApplyTransition(b, StatusApproved, id.NewActorID(), TransitionPayload{}, time.Now()))
		s.Require().NoError(s.store.Update(context.Background(), b))

		pending, err := s.store.List(context.Background(), StatusPending)
		s.NoError(err)
		s.Len(pending, 1)
		s.Equal(a.ID, pending[0].ID)

		all, err := s.store.List(context.Background(), "")
		s.NoError(err)
		s.Len(all, 2)
	})
}
