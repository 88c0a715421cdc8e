package service

// ImportMode is what an import would do given what is already stored.
type ImportMode string

const (
	ModeInsert          ImportMode = "insert"
	ModeAlreadyImported ImportMode = "already_imported"
	ModeConflict        ImportMode = "conflict"
)

// ImportDecision is the outcome of an import. All three are expected
// results, not errors.
type ImportDecision string

const (
	DecisionImported        ImportDecision = "imported"
	DecisionAlreadyImported ImportDecision = "already_imported"
	DecisionConflict        ImportDecision = "conflict"
)

type ImportResult struct {
	Decision       ImportDecision `json:"decision"`
	TournamentUUID string         `json:"tournamentUuid"`
}

// ResolveImportMode decides an import from the stored definition hash (nil
// when nothing matches) and the incoming one. A changed definition is never
// overwritten.
func ResolveImportMode(existingHash *string, incoming string) ImportMode {
	switch {
	case existingHash == nil:
		return ModeInsert
	case *existingHash == incoming:
		return ModeAlreadyImported
	default:
		return ModeConflict
	}
}
