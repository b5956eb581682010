package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"concord/internal/interchange"
)

type fact struct {
	Core
	Name  string
	Score *int
}

func (f *fact) Temporal() *Core { return &f.Core }

func (f *fact) Copy() *fact {
	c := *f
	return &c
}

type RowStateSuite struct {
	suite.Suite
	eventTime  time.Time
	storedFrom time.Time
}

func TestRowStateSuite(t *testing.T) {
	suite.Run(t, new(RowStateSuite))
}

func (s *RowStateSuite) SetupTest() {
	s.eventTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.storedFrom = s.eventTime.Add(time.Minute)
}

func (s *RowStateSuite) newState(f *fact, created bool) *RowState[*fact] {
	return NewRowState(f, s.eventTime, s.storedFrom, created)
}

func (s *RowStateSuite) TestAssign() {
	s.Run("differing value marks update and rewrites the core", func() {
		f := &fact{Name: "old"}
		f.ValidFrom = s.eventTime.Add(-time.Hour)
		rs := s.newState(f, false)

		changed := Assign(rs, "new", f.Name, func(v string) { f.Name = v })

		s.True(changed)
		s.True(rs.Updated())
		s.Equal("new", f.Name)
		s.Equal(s.eventTime, f.ValidFrom)
		s.Equal(s.storedFrom, f.StoredFrom)
	})

	s.Run("identical value is a no-op", func() {
		f := &fact{Name: "same"}
		rs := s.newState(f, false)

		changed := Assign(rs, "same", f.Name, func(v string) { f.Name = v })

		s.False(changed)
		s.False(rs.Updated())
	})
}

func (s *RowStateSuite) TestAssignValue() {
	s.Run("unknown field never overwrites", func() {
		f := &fact{Name: "recorded"}
		rs := s.newState(f, false)

		changed := AssignValue(rs, interchange.Unknown[string](), f.Name, func(v string) { f.Name = v })

		s.False(changed)
		s.Equal("recorded", f.Name)
	})

	s.Run("explicit delete resets to zero", func() {
		f := &fact{Name: "recorded"}
		rs := s.newState(f, false)

		changed := AssignValue(rs, interchange.Deleted[string](), f.Name, func(v string) { f.Name = v })

		s.True(changed)
		s.Empty(f.Name)
	})

	s.Run("known value assigns", func() {
		f := &fact{}
		rs := s.newState(f, false)

		changed := AssignValue(rs, interchange.Some("fresh"), f.Name, func(v string) { f.Name = v })

		s.True(changed)
		s.Equal("fresh", f.Name)
	})
}

func (s *RowStateSuite) TestAssignPtr() {
	s.Run("compares pointees not pointers", func() {
		five := 5
		alsoFive := 5
		f := &fact{Score: &five}
		rs := s.newState(f, false)

		changed := AssignPtr(rs, &alsoFive, f.Score, func(v *int) { f.Score = v })

		s.False(changed)
	})

	s.Run("nil clears", func() {
		five := 5
		f := &fact{Score: &five}
		rs := s.newState(f, false)

		changed := AssignPtr(rs, nil, f.Score, func(v *int) { f.Score = v })

		s.True(changed)
		s.Nil(f.Score)
	})
}
