package interchange

import (
	"encoding/json"

	domainerrors "concord/pkg/domain-errors"
)

// envelope is the wire framing the upstream adapter produces: a kind
// discriminator plus the kind-specific document.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a framed canonical message. Unknown kinds are rejected without
// attempting partial processing.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInvalidInput, "malformed message frame")
	}
	msg, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return nil, err
	}
	if err := msg.Env().Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePayload(kind Kind, payload []byte) (Message, error) {
	unmarshal := func(dst Message) (Message, error) {
		if err := json.Unmarshal(payload, dst); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInvalidInput, "malformed "+string(kind)+" payload")
		}
		return dst, nil
	}
	switch kind {
	case KindAdmitPatient:
		return unmarshal(&AdmitPatient{})
	case KindRegisterPatient:
		return unmarshal(&RegisterPatient{})
	case KindTransferPatient:
		return unmarshal(&TransferPatient{})
	case KindDischargePatient:
		return unmarshal(&DischargePatient{})
	case KindCancelAdmitPatient:
		return unmarshal(&CancelAdmitPatient{})
	case KindCancelTransferPatient:
		return unmarshal(&CancelTransferPatient{})
	case KindCancelDischarge:
		return unmarshal(&CancelDischarge{})
	case KindUpdatePatientInfo:
		return unmarshal(&UpdatePatientInfo{})
	case KindMergeByID:
		return unmarshal(&MergeByID{})
	case KindPendingEvent:
		return unmarshal(&PendingEvent{})
	case KindCancelPendingEvent:
		return unmarshal(&CancelPendingEvent{})
	case KindFlowsheet:
		return unmarshal(&Flowsheet{})
	case KindPatientState:
		return unmarshal(&PatientState{})
	case KindFormAnswers:
		return unmarshal(&FormAnswers{})
	case KindWaveformBatch:
		return unmarshal(&WaveformBatch{})
	default:
		return nil, domainerrors.Newf(domainerrors.CodeUnsupportedKind, "unsupported message kind %q", kind)
	}
}
