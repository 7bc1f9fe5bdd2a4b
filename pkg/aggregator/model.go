// Package aggregator walks a (possibly merged) input filesystem, imports
// tickets, parses every NCA it finds, decodes packaged content metadata and
// control data, and assembles the title/application model relating base
// programs, patches and add-ons across versions.
package aggregator

import (
	"github.com/nxfs/hac-go/pkg/ids"
	"github.com/nxfs/hac-go/pkg/nacp"
	"github.com/nxfs/hac-go/pkg/nca"
)

// NcaSet maps every NCA this aggregator found by its content id.
type NcaSet map[ids.ContentID]*nca.Nca

// VersionKind distinguishes the base install of an application from an
// update (Patch) install.
type VersionKind int

const (
	VersionKindBase VersionKind = iota
	VersionKindPatch
)

func (k VersionKind) String() string {
	if k == VersionKindPatch {
		return "Patch"
	}
	return "Base"
}

// Program is one playable program within an application version: its own
// code content, its control data, and (for a patch program) the base
// version's program it updates.
type Program struct {
	ID                    ids.ProgramID
	BaseContentID         *ids.ContentID
	ContentID             ids.ContentID
	HtmlDocumentContentID *ids.ContentID
	ControlContentID      ids.ContentID
	Control               *nacp.ApplicationControlProperty
}

// ApplicationVersion is one installed version of an application: either its
// base install or a patch applied on top.
type ApplicationVersion struct {
	Version       ids.Version
	Kind          VersionKind
	MetaContentID ids.ContentID
	Programs      map[ids.ProgramID]*Program
}

// Addon is one piece of add-on content (DLC) attached to an application.
type Addon struct {
	ID            ids.DataID
	DataPatchID   ids.DataPatchID
	Version       ids.Version
	MetaContentID ids.ContentID
	ContentID     ids.ContentID
}

// Application is the top-level unit of the title model: a base install plus
// every patch version and add-on known for it.
type Application struct {
	ID          ids.ApplicationID
	PatchID     ids.PatchID
	BaseVersion ids.Version
	Versions    map[ids.Version]*ApplicationVersion
	Addons      map[ids.DataID]*Addon
}

// Set is the fully assembled result of aggregation: every NCA seen, and
// every application built from the content metas among them.
type Set struct {
	Ncas         NcaSet
	Applications map[ids.ApplicationID]*Application
}
