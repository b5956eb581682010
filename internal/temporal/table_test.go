package temporal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"concord/internal/storage/memtable"
	"concord/internal/temporal"
)

type reading struct {
	temporal.Core
	Value float64
	Unit  string
}

func (r *reading) Temporal() *temporal.Core { return &r.Core }

func (r *reading) Copy() *reading {
	c := *r
	return &c
}

type UpsertSuite struct {
	suite.Suite
	ctx context.Context
	tbl *memtable.Table[string, *reading]
}

func TestUpsertSuite(t *testing.T) {
	suite.Run(t, new(UpsertSuite))
}

func (s *UpsertSuite) SetupTest() {
	s.ctx = context.Background()
	s.tbl = memtable.New[string, *reading]()
}

func ts(hour int) time.Time {
	return time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC)
}

func (s *UpsertSuite) upsert(key string, value float64, eventTime, storedFrom time.Time) (temporal.UpsertResult, error) {
	return temporal.Upsert(s.ctx, s.tbl, key,
		func() *reading { return &reading{Unit: "bpm"} },
		func(rs *temporal.RowState[*reading]) error {
			r := rs.Entity()
			temporal.Assign(rs, value, r.Value, func(v float64) { r.Value = v })
			return nil
		},
		eventTime, storedFrom,
	)
}

func (s *UpsertSuite) TestCreate() {
	result, err := s.upsert("hr", 72, ts(10), ts(10))
	s.Require().NoError(err)
	s.Equal(temporal.Created, result)

	live, err := s.tbl.GetCurrentLive(s.ctx, "hr")
	s.Require().NoError(err)
	s.Equal(72.0, live.Value)
	s.Equal(ts(10), live.ValidFrom)
	s.Nil(live.ValidUntil)
	s.Nil(live.StoredUntil)
}

func (s *UpsertSuite) TestRedeliveryIsNoChange() {
	_, err := s.upsert("hr", 72, ts(10), ts(10))
	s.Require().NoError(err)

	result, err := s.upsert("hr", 72, ts(10), ts(11))
	s.Require().NoError(err)
	s.Equal(temporal.NoChange, result)

	audits, err := s.tbl.Audits(s.ctx, "hr")
	s.Require().NoError(err)
	s.Empty(audits)
}

func (s *UpsertSuite) TestNewerEventSupersedes() {
	_, err := s.upsert("hr", 72, ts(10), ts(10))
	s.Require().NoError(err)

	result, err := s.upsert("hr", 90, ts(12), ts(12))
	s.Require().NoError(err)
	s.Equal(temporal.Updated, result)

	live, err := s.tbl.GetCurrentLive(s.ctx, "hr")
	s.Require().NoError(err)
	s.Equal(90.0, live.Value)
	s.Equal(ts(12), live.ValidFrom)

	audits, err := s.tbl.Audits(s.ctx, "hr")
	s.Require().NoError(err)
	s.Require().Len(audits, 1)
	s.Equal(72.0, audits[0].Value)
	s.Require().NotNil(audits[0].ValidUntil)
	s.Equal(ts(12), *audits[0].ValidUntil)
	s.NotNil(audits[0].StoredUntil)
}

func (s *UpsertSuite) TestOutOfOrderBecomesHistory() {
	_, err := s.upsert("hr", 90, ts(12), ts(12))
	s.Require().NoError(err)

	result, err := s.upsert("hr", 72, ts(8), ts(13))
	s.Require().NoError(err)
	s.Equal(temporal.SupersededByNewer, result)

	live, err := s.tbl.GetCurrentLive(s.ctx, "hr")
	s.Require().NoError(err)
	s.Equal(90.0, live.Value)

	s.Run("as-of sees the historical value", func() {
		old, err := s.tbl.AsOf(s.ctx, "hr", ts(9))
		s.Require().NoError(err)
		s.Equal(72.0, old.Value)
		s.Require().NotNil(old.ValidUntil)
		s.Equal(ts(12), *old.ValidUntil)
	})

	s.Run("as-of after the live row sees current truth", func() {
		now, err := s.tbl.AsOf(s.ctx, "hr", ts(13))
		s.Require().NoError(err)
		s.Equal(90.0, now.Value)
	})

	s.Run("replaying the out-of-order event is a no-op", func() {
		result, err := s.upsert("hr", 72, ts(8), ts(14))
		s.Require().NoError(err)
		s.Equal(temporal.NoChange, result)
	})
}

func (s *UpsertSuite) TestOutOfOrderEqualValuesExtendsHistory() {
	_, err := s.upsert("hr", 90, ts(12), ts(12))
	s.Require().NoError(err)

	// Same values as the live row, but earlier: recorded as a closed
	// history row rather than NoChange.
	result, err := s.upsert("hr", 90, ts(8), ts(13))
	s.Require().NoError(err)
	s.Equal(temporal.SupersededByNewer, result)

	old, err := s.tbl.AsOf(s.ctx, "hr", ts(9))
	s.Require().NoError(err)
	s.Equal(90.0, old.Value)
	s.Require().NotNil(old.ValidUntil)
	s.Equal(ts(12), *old.ValidUntil)

	live, err := s.tbl.GetCurrentLive(s.ctx, "hr")
	s.Require().NoError(err)
	s.Equal(ts(12), live.ValidFrom)

	result, err = s.upsert("hr", 90, ts(8), ts(14))
	s.Require().NoError(err)
	s.Equal(temporal.NoChange, result)
}

func (s *UpsertSuite) TestAuditTrailAccumulates() {
	for i, v := range []float64{70, 75, 80} {
		_, err := s.upsert("hr", v, ts(10+i), ts(10+i))
		s.Require().NoError(err)
	}
	audits, err := s.tbl.Audits(s.ctx, "hr")
	s.Require().NoError(err)
	s.Require().Len(audits, 2)
	s.Equal(70.0, audits[0].Value)
	s.Equal(75.0, audits[1].Value)
}
