package models

import (
	"fmt"

	"github.com/iudanet/collabdocs/pkg/api"
)

// ToWire конвертирует доменную операцию в wire-форму.
func (op *Operation) ToWire() *api.Operation {
	wire := &api.Operation{
		Kind:       api.OperationKind(op.Kind),
		SiteID:     op.SiteID,
		Clock:      op.Clock,
		DocumentID: op.DocumentID,
		Timestamp:  op.Timestamp,
	}
	if op.Character != nil {
		wire.Character = &api.Character{
			ID:         op.Character.ID.String(),
			Value:      op.Character.Value,
			PrevID:     op.Character.PrevID.String(),
			Attributes: op.Character.Attributes,
			Deleted:    op.Character.Deleted,
		}
	}
	if !op.TargetID.IsZero() {
		wire.TargetID = op.TargetID.String()
	}
	if op.Attributes != nil {
		wire.Attributes = op.Attributes
	}
	return wire
}

// OperationFromWire конвертирует wire-форму в доменную операцию.
// Идентификаторы приходят строками "site:clock" и разбираются здесь,
// на границе: дальше по системе ходят только типизированные Identifier.
func OperationFromWire(wire *api.Operation) (*Operation, error) {
	if wire == nil {
		return nil, fmt.Errorf("nil wire operation")
	}

	op := &Operation{
		Kind:       OperationKind(wire.Kind),
		Attributes: wire.Attributes,
		SiteID:     wire.SiteID,
		Clock:      wire.Clock,
		DocumentID: wire.DocumentID,
		Timestamp:  wire.Timestamp,
	}

	switch op.Kind {
	case OpInsert:
		if wire.Character == nil {
			return nil, fmt.Errorf("insert operation without character")
		}
		id, err := ParseIdentifier(wire.Character.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid character id: %w", err)
		}
		prev, err := ParseIdentifier(wire.Character.PrevID)
		if err != nil {
			return nil, fmt.Errorf("invalid character prev id: %w", err)
		}
		op.Character = &CharacterNode{
			ID:         id,
			PrevID:     prev,
			Value:      wire.Character.Value,
			Attributes: wire.Character.Attributes,
			Deleted:    wire.Character.Deleted,
		}
	case OpDelete, OpFormat:
		target, err := ParseIdentifier(wire.TargetID)
		if err != nil {
			return nil, fmt.Errorf("invalid target id: %w", err)
		}
		op.TargetID = target
	default:
		return nil, fmt.Errorf("unknown operation kind: %q", wire.Kind)
	}

	return op, nil
}
