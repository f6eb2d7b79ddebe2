// Package protocol implements the per-connection control protocol that starts,
// relays and cancels conversions. It is independent of the transport carrying
// the messages.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmylchreest/vertd/internal/converter"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/models"
)

// Message types on the wire.
const (
	TypeStartJob       = "startJob"
	TypeCancelJob      = "cancelJob"
	TypeJobFinished    = "jobFinished"
	TypeJobCancelled   = "jobCancelled"
	TypeProgressUpdate = "progressUpdate"
	TypeError          = "error"
)

// Progress update kinds.
const (
	ProgressFrame = "frame"
	ProgressFPS   = "fps"
)

// NoErrorLogs is reported for a failed conversion that wrote no diagnostics.
const NoErrorLogs = "No error logs."

// envelope is the tagged shape of every message: {"type": ..., "data": ...}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StartJob asks for an uploaded job to be converted.
type StartJob struct {
	Token        string
	JobID        models.JobID
	To           string
	Speed        converter.Speed
	KeepMetadata bool
}

// CancelJob asks for the running conversion to be stopped.
type CancelJob struct {
	Token string
	JobID models.JobID
}

type startJobData struct {
	Token        string           `json:"token"`
	JobID        *models.JobID    `json:"jobId"`
	To           string           `json:"to"`
	Speed        *converter.Speed `json:"speed"`
	KeepMetadata *bool            `json:"keepMetadata"`
}

type cancelJobData struct {
	Token string        `json:"token"`
	JobID *models.JobID `json:"jobId"`
}

// ErrUnexpectedMessage is returned for well-formed messages a client may not send.
var ErrUnexpectedMessage = errors.New("unexpected message type")

// Decode parses one inbound message into a StartJob or a CancelJob.
func Decode(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeStartJob:
		var d startJobData
		if err := unmarshalData(env, &d); err != nil {
			return nil, err
		}
		if d.JobID == nil {
			return nil, errors.New("missing field `jobId`")
		}
		msg := StartJob{
			Token:        d.Token,
			JobID:        *d.JobID,
			To:           d.To,
			Speed:        converter.SpeedMedium,
			KeepMetadata: true,
		}
		if d.Speed != nil {
			msg.Speed = *d.Speed
		}
		if d.KeepMetadata != nil {
			msg.KeepMetadata = *d.KeepMetadata
		}
		return msg, nil

	case TypeCancelJob:
		var d cancelJobData
		if err := unmarshalData(env, &d); err != nil {
			return nil, err
		}
		if d.JobID == nil {
			return nil, errors.New("missing field `jobId`")
		}
		return CancelJob{Token: d.Token, JobID: *d.JobID}, nil

	case TypeJobFinished, TypeJobCancelled, TypeProgressUpdate, TypeError:
		return nil, fmt.Errorf("%w %q", ErrUnexpectedMessage, env.Type)

	case "":
		return nil, errors.New("missing field `type`")

	default:
		return nil, fmt.Errorf("unknown variant `%s`", env.Type)
	}
}

func unmarshalData(env envelope, v any) error {
	if len(env.Data) == 0 {
		return errors.New("missing field `data`")
	}
	return json.Unmarshal(env.Data, v)
}

func encode(typ string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		// Every payload below is made of strings and numbers.
		panic(fmt.Sprintf("encoding %s message: %v", typ, err))
	}
	out, _ := json.Marshal(envelope{Type: typ, Data: payload})
	return out
}

type jobRef struct {
	JobID models.JobID `json:"jobId"`
}

// JobFinished reports a completed conversion.
func JobFinished(id models.JobID) []byte {
	return encode(TypeJobFinished, jobRef{JobID: id})
}

// JobCancelled reports a conversion stopped on request.
func JobCancelled(id models.JobID) []byte {
	return encode(TypeJobCancelled, jobRef{JobID: id})
}

// Error reports a failure to the client. The connection stays open.
func Error(message string) []byte {
	return encode(TypeError, struct {
		Message string `json:"message"`
	}{Message: message})
}

// ErrorFrom reports err as an error event.
func ErrorFrom(err error) []byte {
	return Error(err.Error())
}

// ParseError reports an inbound message that could not be decoded.
func ParseError(err error) []byte {
	return Error("failed to parse message: " + err.Error())
}

// ConvertError reports a conversion that could not be started.
func ConvertError(err error) []byte {
	return Error("failed to convert: " + err.Error())
}

// Progress encodes a frame or fps sample. It reports false for events that are
// not relayed to clients.
func Progress(ev ffmpeg.Event) ([]byte, bool) {
	type update struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}
	switch ev.Kind {
	case ffmpeg.EventFrame:
		return encode(TypeProgressUpdate, update{Type: ProgressFrame, Data: ev.Frame}), true
	case ffmpeg.EventFPS:
		return encode(TypeProgressUpdate, update{Type: ProgressFPS, Data: ev.FPS}), true
	default:
		return nil, false
	}
}
