package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"BlueLedger/internal/event"
)

var (
	// ErrNotWireCommand marks commands that only run in-process.
	ErrNotWireCommand     = errors.New("ingestion: command not accepted over the wire")
	ErrUnknownSubject     = errors.New("ingestion: unknown subject")
	ErrUnknownCommandType = errors.New("ingestion: unknown command type")
	ErrMalformed          = errors.New("ingestion: malformed payload")
)

// ParseRawEvent converts a NATS message into a command.
func ParseRawEvent(raw RawEvent) (event.Command, error) {
	ct, err := CommandTypeForSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(ct, raw.Data)
}

// CommandTypeForSubject maps blue.cmd.<type>[.…] and blue.prices[.…] to a command type.
func CommandTypeForSubject(subject string) (event.CommandType, error) {
	parts := strings.Split(subject, ".")
	if len(parts) >= 2 && parts[0] == "blue" {
		switch parts[1] {
		case "prices":
			return event.CommandTypePriceUpdate, nil
		case "cmd":
			if len(parts) >= 3 {
				if ct := event.ParseCommandType(parts[2]); ct != event.CommandTypeUnknown {
					return ct, nil
				}
			}
		}
	}
	return event.CommandTypeUnknown, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
}

// ParseCommand decodes a snake_case JSON command. Amounts are decimal or
// 0x-hex strings, addresses are hex. Unknown fields are rejected.
func ParseCommand(ct event.CommandType, data []byte) (event.Command, error) {
	if ct == event.CommandTypeFlashLoan {
		return nil, fmt.Errorf("%w: %s", ErrNotWireCommand, ct)
	}
	cmd, err := event.NewCommand(ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, ct, err)
	}

	if cmd.IdempotencyKey() == "" {
		return nil, fmt.Errorf("%w: %s: missing idempotency_key", ErrMalformed, ct)
	}
	if len(callbackData(cmd)) > 0 {
		return nil, fmt.Errorf("%w: %s with callback data", ErrNotWireCommand, ct)
	}
	return cmd, nil
}

// callbackData returns the data a command would hand its callback.
func callbackData(cmd event.Command) []byte {
	switch c := cmd.(type) {
	case *event.Supply:
		return c.Data
	case *event.Repay:
		return c.Data
	case *event.SupplyCollateral:
		return c.Data
	case *event.Liquidate:
		return c.Data
	}
	return nil
}
