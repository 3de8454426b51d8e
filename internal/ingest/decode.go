package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

// ErrUnknownKind is returned for a record kind no detector handles.
var ErrUnknownKind = errors.New("unknown record kind")

// ErrInvalidRecord wraps decoding and validation failures.
var ErrInvalidRecord = errors.New("invalid record")

var validate = validator.New()

// Decode parses payload into the typed record for kind and validates it.
func Decode(kind string, payload []byte) (domain.Record, error) {
	rec, ok := domain.NewRecord(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := Validate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate checks the struct tags of rec.
func Validate(rec domain.Record) error {
	err := validate.Struct(rec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(msgs, "; "))
}
