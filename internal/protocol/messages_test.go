package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/converter"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/models"
)

const testJobID = "01J9Z3N2V5Q8R7T6Y4X3W2V1S0"

func TestDecode_StartJob(t *testing.T) {
	id := models.MustParseJobID(testJobID)

	tests := []struct {
		name string
		raw  string
		want StartJob
	}{
		{
			name: "defaults",
			raw:  `{"type":"startJob","data":{"token":"tok","jobId":"` + testJobID + `","to":"webm"}}`,
			want: StartJob{Token: "tok", JobID: id, To: "webm", Speed: converter.SpeedMedium, KeepMetadata: true},
		},
		{
			name: "explicit",
			raw:  `{"type":"startJob","data":{"token":"tok","jobId":"` + testJobID + `","to":"gif","speed":"verySlow","keepMetadata":false}}`,
			want: StartJob{Token: "tok", JobID: id, To: "gif", Speed: converter.SpeedVerySlow, KeepMetadata: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestDecode_CancelJob(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"cancelJob","data":{"token":"tok","jobId":"` + testJobID + `"}}`))
	require.NoError(t, err)
	assert.Equal(t, CancelJob{Token: "tok", JobID: models.MustParseJobID(testJobID)}, msg)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"missing type", `{"data":{}}`},
		{"unknown type", `{"type":"launchMissiles","data":{}}`},
		{"server message", `{"type":"jobFinished","data":{"jobId":"` + testJobID + `"}}`},
		{"missing data", `{"type":"startJob"}`},
		{"missing job id", `{"type":"startJob","data":{"token":"tok","to":"mp4"}}`},
		{"bad job id", `{"type":"cancelJob","data":{"token":"tok","jobId":"nope"}}`},
		{"bad speed", `{"type":"startJob","data":{"token":"tok","jobId":"` + testJobID + `","to":"mp4","speed":"ludicrous"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestEncode(t *testing.T) {
	id := models.MustParseJobID(testJobID)

	assert.JSONEq(t, `{"type":"jobFinished","data":{"jobId":"`+testJobID+`"}}`, string(JobFinished(id)))
	assert.JSONEq(t, `{"type":"jobCancelled","data":{"jobId":"`+testJobID+`"}}`, string(JobCancelled(id)))
	assert.JSONEq(t, `{"type":"error","data":{"message":"job not found"}}`, string(ErrorFrom(models.ErrJobNotFound)))
	assert.JSONEq(t, `{"type":"error","data":{"message":"failed to convert: boom"}}`, string(ConvertError(errors.New("boom"))))
}

func TestProgress(t *testing.T) {
	msg, ok := Progress(ffmpeg.FrameEvent(12))
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"progressUpdate","data":{"type":"frame","data":12}}`, string(msg))

	msg, ok = Progress(ffmpeg.FPSEvent(29.97))
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"progressUpdate","data":{"type":"fps","data":29.97}}`, string(msg))

	_, ok = Progress(ffmpeg.ErrorEvent("broken pipe"))
	assert.False(t, ok)
}
