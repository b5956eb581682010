package visit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"concord/internal/consistency"
	"concord/internal/identity"
	"concord/internal/interchange"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *MemoryStore
	service *Service
	owner   *identity.Mrn
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
	s.service = NewService(s.store, nil)
	s.owner = &identity.Mrn{ID: uuid.New(), Mrn: "P1", SourceSystem: "EPIC"}
}

func ts(hour int) time.Time {
	return time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC)
}

func envelope(encounter string, event time.Time) interchange.Envelope {
	return interchange.Envelope{
		MessageID:    uuid.NewString(),
		Mrn:          "P1",
		VisitNumber:  encounter,
		SourceSystem: "EPIC",
		EventTime:    event,
		RecordedTime: event.Add(time.Minute),
	}
}

func (s *ServiceSuite) admit(encounter string, event time.Time, location string) consistency.Outcome {
	out, err := s.service.Admit(s.ctx, s.owner, &interchange.AdmitPatient{
		Envelope: envelope(encounter, event),
		Location: interchange.Some(location),
	})
	s.Require().NoError(err)
	return out
}

func (s *ServiceSuite) transfer(encounter string, event time.Time, location string) consistency.Outcome {
	out, err := s.service.Transfer(s.ctx, s.owner, &interchange.TransferPatient{
		Envelope: envelope(encounter, event),
		Location: interchange.Some(location),
	})
	s.Require().NoError(err)
	return out
}

func (s *ServiceSuite) discharge(encounter string, event time.Time) consistency.Outcome {
	out, err := s.service.Discharge(s.ctx, s.owner, &interchange.DischargePatient{
		Envelope:      envelope(encounter, event),
		DischargeTime: event,
	})
	s.Require().NoError(err)
	return out
}

func (s *ServiceSuite) live(encounter string) *HospitalVisit {
	v, err := s.store.Visits().GetCurrentLive(s.ctx, encounter)
	s.Require().NoError(err)
	return v
}

func (s *ServiceSuite) TestAdmitTransferDischarge() {
	s.admit("V1", ts(10), "WARD-A")
	s.transfer("V1", ts(12), "WARD-B")
	s.discharge("V1", ts(14))

	v := s.live("V1")
	s.Equal(Discharged, v.State)
	s.Equal("WARD-B", v.Location)
	s.Require().NotNil(v.DischargeTime)
	s.Equal(ts(14), *v.DischargeTime)
	s.Require().NotNil(v.AdmissionTime)
	s.Equal(ts(10), *v.AdmissionTime)

	s.Run("each version stays addressable", func() {
		atAdmit, err := s.store.Visits().AsOf(s.ctx, "V1", ts(11))
		s.Require().NoError(err)
		s.Equal(Admitted, atAdmit.State)
		s.Equal("WARD-A", atAdmit.Location)

		atTransfer, err := s.store.Visits().AsOf(s.ctx, "V1", ts(13))
		s.Require().NoError(err)
		s.Equal(Transferred, atTransfer.State)
		s.Equal("WARD-B", atTransfer.Location)
	})

	s.Run("two superseded versions in the audit trail", func() {
		audits, err := s.store.Visits().Audits(s.ctx, "V1")
		s.Require().NoError(err)
		s.Len(audits, 2)
	})
}

func (s *ServiceSuite) TestAdmitDefaultsAdmissionTime() {
	out, err := s.service.Admit(s.ctx, s.owner, &interchange.AdmitPatient{
		Envelope: envelope("V2", ts(9)),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindApplied, out.Kind)

	v := s.live("V2")
	s.Require().NotNil(v.AdmissionTime)
	s.Equal(ts(9), *v.AdmissionTime)
}

func (s *ServiceSuite) TestRegisterThenAdmit() {
	out, err := s.service.Register(s.ctx, s.owner, &interchange.RegisterPatient{
		Envelope: envelope("V3", ts(8)),
		Location: interchange.Some("ED"),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindApplied, out.Kind)
	s.Equal(Planned, s.live("V3").State)

	s.admit("V3", ts(10), "WARD-A")

	v := s.live("V3")
	s.Equal(Admitted, v.State)
	s.Require().NotNil(v.PresentationTime)
	s.Equal(ts(8), *v.PresentationTime)
}

func (s *ServiceSuite) TestTransferImpliesAdmission() {
	s.transfer("V4", ts(10), "WARD-C")

	v := s.live("V4")
	s.Equal(Transferred, v.State)
	s.Equal("WARD-C", v.Location)
}

func (s *ServiceSuite) TestTransferAfterDischargeContradicts() {
	s.admit("V5", ts(10), "WARD-A")
	s.discharge("V5", ts(12))

	out, err := s.service.Transfer(s.ctx, s.owner, &interchange.TransferPatient{
		Envelope: envelope("V5", ts(14)),
		Location: interchange.Some("WARD-B"),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)
	s.Equal("WARD-A", s.live("V5").Location)
}

func (s *ServiceSuite) TestDischargeUnseenVisit() {
	s.discharge("V6", ts(10))

	v := s.live("V6")
	s.Equal(Discharged, v.State)
	s.Require().NotNil(v.DischargeTime)
	s.Equal(ts(10), *v.DischargeTime)
}

func (s *ServiceSuite) TestVisitOwnedByAnotherPatient() {
	s.admit("V7", ts(10), "WARD-A")

	intruder := &identity.Mrn{ID: uuid.New(), Mrn: "P2"}
	out, err := s.service.Admit(s.ctx, intruder, &interchange.AdmitPatient{
		Envelope: envelope("V7", ts(11)),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)
	s.Equal(s.owner.ID, s.live("V7").MrnID)
}

func (s *ServiceSuite) TestCancelByAnotherPatientContradicts() {
	s.admit("V20", ts(10), "WARD-A")
	s.transfer("V20", ts(12), "WARD-B")
	intruder := &identity.Mrn{ID: uuid.New(), Mrn: "P2"}

	out, err := s.service.CancelTransfer(s.ctx, intruder, &interchange.CancelTransferPatient{
		Envelope:      envelope("V20", ts(13)),
		CancelledTime: ts(13),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)

	out, err = s.service.CancelAdmit(s.ctx, intruder, &interchange.CancelAdmitPatient{
		Envelope:      envelope("V20", ts(13)),
		CancelledTime: ts(13),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)

	s.discharge("V20", ts(14))
	out, err = s.service.CancelDischarge(s.ctx, intruder, &interchange.CancelDischarge{
		Envelope:      envelope("V20", ts(15)),
		CancelledTime: ts(15),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)

	v := s.live("V20")
	s.Equal(s.owner.ID, v.MrnID)
	s.Equal(Discharged, v.State)
}

func (s *ServiceSuite) TestCancelAdmit() {
	s.Run("without an admission on record", func() {
		out, err := s.service.CancelAdmit(s.ctx, s.owner, &interchange.CancelAdmitPatient{
			Envelope: envelope("V8", ts(10)),
		})
		s.Require().NoError(err)
		s.Equal(consistency.KindContradiction, out.Kind)
	})

	s.Run("returns an admitted visit to planned", func() {
		s.admit("V8", ts(10), "WARD-A")
		out, err := s.service.CancelAdmit(s.ctx, s.owner, &interchange.CancelAdmitPatient{
			Envelope:      envelope("V8", ts(11)),
			CancelledTime: ts(11),
		})
		s.Require().NoError(err)
		s.Equal(consistency.KindApplied, out.Kind)

		v := s.live("V8")
		s.Equal(Planned, v.State)
		s.Nil(v.AdmissionTime)
		s.Empty(v.Location)
	})
}

func (s *ServiceSuite) TestCancelTransferRestoresPriorLocation() {
	s.admit("V9", ts(10), "WARD-A")
	s.transfer("V9", ts(12), "WARD-X")
	s.transfer("V9", ts(14), "WARD-B")

	out, err := s.service.CancelTransfer(s.ctx, s.owner, &interchange.CancelTransferPatient{
		Envelope:      envelope("V9", ts(15)),
		CancelledTime: ts(15),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindApplied, out.Kind)

	v := s.live("V9")
	s.Equal(Transferred, v.State)
	s.Equal("WARD-X", v.Location)
}

func (s *ServiceSuite) TestCancelTransferBackToAdmitted() {
	s.admit("V10", ts(10), "WARD-A")
	s.transfer("V10", ts(12), "WARD-B")

	out, err := s.service.CancelTransfer(s.ctx, s.owner, &interchange.CancelTransferPatient{
		Envelope:      envelope("V10", ts(13)),
		CancelledTime: ts(13),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindApplied, out.Kind)

	v := s.live("V10")
	s.Equal(Admitted, v.State)
	s.Equal("WARD-A", v.Location)
}

func (s *ServiceSuite) TestCancelTransferWithoutTransfer() {
	s.admit("V11", ts(10), "WARD-A")

	out, err := s.service.CancelTransfer(s.ctx, s.owner, &interchange.CancelTransferPatient{
		Envelope: envelope("V11", ts(11)),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)
}

func (s *ServiceSuite) TestCancelTransferWithoutPriorLocation() {
	s.transfer("V12", ts(10), "WARD-C")

	out, err := s.service.CancelTransfer(s.ctx, s.owner, &interchange.CancelTransferPatient{
		Envelope: envelope("V12", ts(11)),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)
}

func (s *ServiceSuite) TestCancelDischargeRestoresPriorState() {
	s.admit("V13", ts(10), "WARD-A")
	s.transfer("V13", ts(12), "WARD-B")
	s.discharge("V13", ts(14))

	out, err := s.service.CancelDischarge(s.ctx, s.owner, &interchange.CancelDischarge{
		Envelope:      envelope("V13", ts(15)),
		CancelledTime: ts(15),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindApplied, out.Kind)

	v := s.live("V13")
	s.Equal(Transferred, v.State)
	s.Equal("WARD-B", v.Location)
	s.Nil(v.DischargeTime)
	s.Empty(v.DischargeDisposition)
	s.Empty(v.DischargeDestination)
}

func (s *ServiceSuite) TestCancelDischargeWithoutPriorVersion() {
	s.discharge("V14", ts(10))

	out, err := s.service.CancelDischarge(s.ctx, s.owner, &interchange.CancelDischarge{
		Envelope:      envelope("V14", ts(11)),
		CancelledTime: ts(11),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindApplied, out.Kind)
	s.Equal(DischargeCancelled, s.live("V14").State)
}

func (s *ServiceSuite) TestCancelDischargeWithoutDischarge() {
	s.admit("V15", ts(10), "WARD-A")

	out, err := s.service.CancelDischarge(s.ctx, s.owner, &interchange.CancelDischarge{
		Envelope: envelope("V15", ts(11)),
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindContradiction, out.Kind)
	s.Equal(Admitted, s.live("V15").State)
}

func (s *ServiceSuite) TestPendingLifecycle() {
	key := PendingKey{Encounter: "V16", PendingType: string(interchange.PendingTransfer)}

	s.Run("recorded without touching the visit", func() {
		out, err := s.service.RecordPending(s.ctx, s.owner, &interchange.PendingEvent{
			Envelope:        envelope("V16", ts(10)),
			PendingType:     interchange.PendingTransfer,
			PendingLocation: interchange.Some("ICU"),
		})
		s.Require().NoError(err)
		s.Equal(consistency.KindApplied, out.Kind)

		p, err := s.store.Pending().GetCurrentLive(s.ctx, key)
		s.Require().NoError(err)
		s.Equal("ICU", p.Location)

		_, err = s.store.Visits().GetCurrentLive(s.ctx, "V16")
		s.Error(err)
	})

	s.Run("confirming transfer closes the pending fact", func() {
		s.admit("V16", ts(11), "WARD-A")
		s.transfer("V16", ts(12), "ICU")

		p, err := s.store.Pending().GetCurrentLive(s.ctx, key)
		s.Require().NoError(err)
		s.Require().NotNil(p.ValidUntil)
		s.Equal(ts(12), *p.ValidUntil)
		s.False(p.Cancelled)
	})
}

func (s *ServiceSuite) TestCancelPending() {
	s.Run("never-seen pending is ignored", func() {
		out, err := s.service.CancelPending(s.ctx, &interchange.CancelPendingEvent{
			Envelope:    envelope("V17", ts(10)),
			PendingType: interchange.PendingDischarge,
		})
		s.Require().NoError(err)
		s.Equal(consistency.KindIgnored, out.Kind)
	})

	s.Run("recorded pending closes as cancelled", func() {
		_, err := s.service.RecordPending(s.ctx, s.owner, &interchange.PendingEvent{
			Envelope:    envelope("V17", ts(10)),
			PendingType: interchange.PendingDischarge,
		})
		s.Require().NoError(err)

		out, err := s.service.CancelPending(s.ctx, &interchange.CancelPendingEvent{
			Envelope:      envelope("V17", ts(11)),
			PendingType:   interchange.PendingDischarge,
			CancelledTime: ts(11),
		})
		s.Require().NoError(err)
		s.Equal(consistency.KindApplied, out.Kind)

		key := PendingKey{Encounter: "V17", PendingType: string(interchange.PendingDischarge)}
		p, err := s.store.Pending().GetCurrentLive(s.ctx, key)
		s.Require().NoError(err)
		s.True(p.Cancelled)
		s.Require().NotNil(p.ValidUntil)
		s.Equal(ts(11), *p.ValidUntil)
	})

	s.Run("replayed cancellation is ignored", func() {
		out, err := s.service.CancelPending(s.ctx, &interchange.CancelPendingEvent{
			Envelope:      envelope("V17", ts(11)),
			PendingType:   interchange.PendingDischarge,
			CancelledTime: ts(11),
		})
		s.Require().NoError(err)
		s.Equal(consistency.KindIgnored, out.Kind)
	})
}

func (s *ServiceSuite) TestReassignOwner() {
	s.admit("V18", ts(10), "WARD-A")
	s.admit("V19", ts(10), "WARD-B")

	surviving := uuid.New()
	changes, err := s.service.ReassignOwner(s.ctx, s.owner.ID, surviving, ts(12), ts(12))
	s.Require().NoError(err)
	s.Len(changes, 2)

	for _, enc := range []string{"V18", "V19"} {
		v := s.live(enc)
		s.Equal(surviving, v.MrnID)

		audits, err := s.store.Visits().Audits(s.ctx, enc)
		s.Require().NoError(err)
		s.Require().Len(audits, 1)
		s.Equal(MergedAway, audits[0].State)
		s.Equal(s.owner.ID, audits[0].MrnID)
	}

	s.Run("replay is a no-op", func() {
		changes, err := s.service.ReassignOwner(s.ctx, surviving, surviving, ts(13), ts(13))
		s.Require().NoError(err)
		for _, c := range changes {
			s.Equal("no_change", c.Result.String())
		}
	})
}

func (s *ServiceSuite) TestLateAdmitAfterDischarge() {
	s.discharge("V20", ts(14))
	s.admit("V20", ts(10), "WARD-A")

	v := s.live("V20")
	s.Equal(Discharged, v.State)

	atAdmit, err := s.store.Visits().AsOf(s.ctx, "V20", ts(11))
	s.Require().NoError(err)
	s.Equal(Admitted, atAdmit.State)
	s.Equal("WARD-A", atAdmit.Location)
}

func (s *ServiceSuite) TestMissingVisitNumberIgnored() {
	out, err := s.service.Admit(s.ctx, s.owner, &interchange.AdmitPatient{
		Envelope: interchange.Envelope{Mrn: "P1", EventTime: ts(10), RecordedTime: ts(10)},
	})
	s.Require().NoError(err)
	s.Equal(consistency.KindIgnored, out.Kind)
}
