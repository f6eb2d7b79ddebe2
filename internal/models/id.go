package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// JobID identifies an uploaded job. It is a ULID so ids sort by upload time.
type JobID ulid.ULID

// NewJobID generates a fresh job identifier.
func NewJobID() JobID {
	return JobID(ulid.Make())
}

// ParseJobID parses a job identifier received from a client.
func ParseJobID(s string) (JobID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return JobID{}, fmt.Errorf("%w: %q", ErrInvalidJobID, s)
	}
	return JobID(id), nil
}

// MustParseJobID is ParseJobID for constants and tests.
func MustParseJobID(s string) JobID {
	id, err := ParseJobID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id JobID) String() string { return ulid.ULID(id).String() }

// IsZero reports whether the id was never assigned.
func (id JobID) IsZero() bool { return id == JobID{} }

// MarshalText makes ids JSON strings and usable as map keys.
func (id JobID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *JobID) UnmarshalText(data []byte) error {
	parsed, err := ParseJobID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores the id in its canonical 26 character form.
func (id JobID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.String(), nil
}

func (id *JobID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*id = JobID{}
		return nil
	case string:
		return id.scanString(v)
	case []byte:
		return id.scanString(string(v))
	default:
		return fmt.Errorf("scanning job id: unsupported type %T", value)
	}
}

func (id *JobID) scanString(s string) error {
	if s == "" {
		*id = JobID{}
		return nil
	}
	return id.UnmarshalText([]byte(s))
}

func (JobID) GormDataType() string { return "varchar(26)" }
