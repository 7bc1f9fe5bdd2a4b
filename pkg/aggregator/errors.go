package aggregator

import (
	"fmt"

	"github.com/nxfs/hac-go/pkg/ids"
)

// NcaFilenameParseError is returned when a ".nca"/".ncz" file's name stem is
// not a valid 32-character hex ContentId. Unlike a single NCA's construction
// failing, a malformed filename means the input tree itself is not the shape
// this aggregator understands, so Build treats this as fatal.
type NcaFilenameParseError struct {
	Path string
	Err  error
}

func (e *NcaFilenameParseError) Error() string {
	return fmt.Sprintf("aggregator: %q: not a content-id filename: %v", e.Path, e.Err)
}
func (e *NcaFilenameParseError) Unwrap() error { return e.Err }

// NcaParseError wraps a single NCA's construction failure with the content
// id it was found under. Build logs and skips the NCA rather than aborting.
type NcaParseError struct {
	ContentID ids.ContentID
	Err       error
}

func (e *NcaParseError) Error() string {
	return fmt.Sprintf("aggregator: nca %s: %v", e.ContentID, e.Err)
}
func (e *NcaParseError) Unwrap() error { return e.Err }

// TicketReadError wraps an I/O failure reading a ".tik" file; Build
// propagates this rather than skipping it, since it is an input-filesystem
// fault rather than a malformed ticket.
type TicketReadError struct {
	Path string
	Err  error
}

func (e *TicketReadError) Error() string { return fmt.Sprintf("aggregator: reading %q: %v", e.Path, e.Err) }
func (e *TicketReadError) Unwrap() error { return e.Err }

// TicketParseError wraps a malformed ticket. Build does not return it:
// importTickets logs an unparseable ticket with the parser's own error and
// skips it.
type TicketParseError struct {
	Path string
	Err  error
}

func (e *TicketParseError) Error() string { return fmt.Sprintf("aggregator: parsing %q: %v", e.Path, e.Err) }
func (e *TicketParseError) Unwrap() error { return e.Err }

// ContentSetParseError wraps any failure parsing one meta NCA's packaged
// content meta into the content set, tagged with the meta NCA's content id.
type ContentSetParseError struct {
	MetaNcaID ids.ContentID
	Err       error
}

func (e *ContentSetParseError) Error() string {
	return fmt.Sprintf("aggregator: content meta %s: %v", e.MetaNcaID, e.Err)
}
func (e *ContentSetParseError) Unwrap() error { return e.Err }

// MetaNoDataSectionError is returned when a Meta-type NCA has no Data
// section to hold its packaged content meta.
type MetaNoDataSectionError struct{}

func (e *MetaNoDataSectionError) Error() string { return "meta nca has no data section" }

// MetaNoCnmtError is returned when a meta NCA's data section contains no
// file ending ".cnmt".
type MetaNoCnmtError struct{}

func (e *MetaNoCnmtError) Error() string { return "meta nca data section has no .cnmt file" }

// MetaMultipleCnmtError is returned when a meta NCA's data section contains
// more than one file ending ".cnmt".
type MetaMultipleCnmtError struct{ Count int }

func (e *MetaMultipleCnmtError) Error() string {
	return fmt.Sprintf("meta nca data section has %d .cnmt files, want 1", e.Count)
}

// MetaCnmtOpenError wraps a failure opening the .cnmt file's storage.
type MetaCnmtOpenError struct{ Err error }

func (e *MetaCnmtOpenError) Error() string { return fmt.Sprintf("opening .cnmt: %v", e.Err) }
func (e *MetaCnmtOpenError) Unwrap() error { return e.Err }

// MetaCnmtReadError wraps a failure reading the .cnmt file's bytes.
type MetaCnmtReadError struct{ Err error }

func (e *MetaCnmtReadError) Error() string { return fmt.Sprintf("reading .cnmt: %v", e.Err) }
func (e *MetaCnmtReadError) Unwrap() error { return e.Err }

// MetaCnmtParseError wraps a failure decoding the .cnmt bytes.
type MetaCnmtParseError struct{ Err error }

func (e *MetaCnmtParseError) Error() string { return fmt.Sprintf("parsing .cnmt: %v", e.Err) }
func (e *MetaCnmtParseError) Unwrap() error { return e.Err }

// MetaUnsupportedTypeError tags a content-meta type this aggregator does not
// build a title for (SystemProgram, SystemData, SystemUpdate,
// BootImagePackage(Safe), Delta). Build recovers from this: it logs and
// skips the title instead of aborting.
type MetaUnsupportedTypeError struct{ Type ids.ContentMetaType }

func (e *MetaUnsupportedTypeError) Error() string {
	return fmt.Sprintf("content meta type %s is not built into the title model", e.Type)
}

// MissingNcaError is returned when a content meta references a content id
// that the NCA set never saw (excluding DeltaFragment entries, which are
// never resolved to an NCA).
type MissingNcaError struct{ ContentID ids.ContentID }

func (e *MissingNcaError) Error() string {
	return fmt.Sprintf("content %s referenced but not present in the nca set", e.ContentID)
}

// MissingLegalInformationNcaError is returned when an Application or Patch
// meta has no LegalInformation content entry.
type MissingLegalInformationNcaError struct{}

func (e *MissingLegalInformationNcaError) Error() string {
	return "no LegalInformation content in content meta"
}

// MissingDataNcaError is returned when an AddOnContent meta has no Data
// content entry.
type MissingDataNcaError struct{}

func (e *MissingDataNcaError) Error() string { return "no Data content in content meta" }

// ProgramsParseError wraps a failure building one program group (one
// id_offset's worth of content entries) within a meta.
type ProgramsParseError struct {
	Program ids.ProgramID
	Err     error
}

func (e *ProgramsParseError) Error() string {
	return fmt.Sprintf("program %s: %v", e.Program, e.Err)
}
func (e *ProgramsParseError) Unwrap() error { return e.Err }

// MissingProgramContentError (aliased in spec prose as "MissingMainNca") is
// returned when a program's content-entry group has no Program-type entry.
type MissingProgramContentError struct{}

func (e *MissingProgramContentError) Error() string { return "program group has no Program content" }

// MissingControlContentError (aliased in spec prose as "MissingControlNca")
// is returned when a program's content-entry group has no Control-type
// entry.
type MissingControlContentError struct{}

func (e *MissingControlContentError) Error() string { return "program group has no Control content" }

// ControlParseError wraps a failure reading or parsing a program's
// control.nacp.
type ControlParseError struct {
	ContentID ids.ContentID
	Err       error
}

func (e *ControlParseError) Error() string {
	return fmt.Sprintf("control.nacp for %s: %v", e.ContentID, e.Err)
}
func (e *ControlParseError) Unwrap() error { return e.Err }
