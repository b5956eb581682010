package effectlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"concord/internal/consistency"
	"concord/internal/temporal"
)

type JournalSuite struct {
	suite.Suite
}

func TestJournalSuite(t *testing.T) {
	suite.Run(t, new(JournalSuite))
}

func (s *JournalSuite) TestWorkerPersistsRecordedEffects() {
	store := NewMemoryStore()
	journal := NewJournal(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewWorker(store, journal).Run(ctx)
	}()

	journal.Record(Effect{MessageID: "m1", MessageKind: "ADMIT_PATIENT", Mrn: "P1"},
		consistency.Applied(consistency.Change{Entity: "hospital_visit", Key: "V1", Result: temporal.Created}))

	s.Eventually(func() bool {
		effects, err := store.List(context.Background(), 10)
		s.Require().NoError(err)
		return len(effects) == 1
	}, time.Second, 10*time.Millisecond)

	effects, err := store.List(context.Background(), 10)
	s.Require().NoError(err)
	s.Equal("m1", effects[0].MessageID)
	s.Equal("applied", effects[0].Outcome)
	s.Equal([]string{"hospital_visit[V1]=created"}, effects[0].Changes)
	s.NotEqual(effects[0].ID.String(), "00000000-0000-0000-0000-000000000000")

	cancel()
	<-done
}

func (s *JournalSuite) TestContradictionCarriesDescription() {
	journal := NewJournal(8, nil)

	journal.Record(Effect{MessageID: "m2"},
		consistency.Contradict("transfer after discharge", "DISCHARGED at WARD-A"))

	effect := <-journal.inbox
	s.Equal("contradiction", effect.Outcome)
	s.Equal("transfer after discharge", effect.Reason)
}

func (s *JournalSuite) TestFullInboxDropsInsteadOfBlocking() {
	journal := NewJournal(1, nil)
	out := consistency.Ignore("redelivery")

	journal.Record(Effect{MessageID: "m3"}, out)
	journal.Record(Effect{MessageID: "m4"}, out)

	s.Len(journal.inbox, 1)
	effect := <-journal.inbox
	s.Equal("m3", effect.MessageID)
}

func (s *JournalSuite) TestListNewestFirst() {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		s.Require().NoError(store.Append(ctx, Effect{MessageID: id}))
	}

	effects, err := store.List(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(effects, 2)
	s.Equal("c", effects[0].MessageID)
	s.Equal("b", effects[1].MessageID)
}
