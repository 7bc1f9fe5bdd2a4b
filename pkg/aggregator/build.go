package aggregator

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nxfs/hac-go/pkg/cnmt"
	"github.com/nxfs/hac-go/pkg/ids"
	"github.com/nxfs/hac-go/pkg/integrity"
	"github.com/nxfs/hac-go/pkg/keys"
	"github.com/nxfs/hac-go/pkg/nacp"
	"github.com/nxfs/hac-go/pkg/nca"
	"github.com/nxfs/hac-go/pkg/ticket"
	"github.com/nxfs/hac-go/pkg/vfs"
)

// Build walks fsys once for tickets, once for NCAs, decodes every meta NCA it
// finds into the content set, and assembles the application model. level
// controls how strictly section integrity is enforced while reading CNMTs,
// NACPs and (by the caller, afterwards) program/data payloads. A nil logger
// discards recoverable warnings.
func Build(fsys vfs.FileSystem, keySet *keys.KeySet, level integrity.CheckLevel, logger Logger) (*Set, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	if err := importTickets(fsys, keySet, logger); err != nil {
		return nil, err
	}

	ncas, err := buildNcaSet(fsys, keySet, logger)
	if err != nil {
		return nil, err
	}

	applications := assembleApplications(ncas, level, logger)

	return &Set{Ncas: ncas, Applications: applications}, nil
}

func hasSuffixFold(name, suffix string) bool {
	return len(name) >= len(suffix) && strings.EqualFold(name[len(name)-len(suffix):], suffix)
}

// contentIDFromName recognises an NCA or NCZ filename stem as a content id.
// matched reports whether the name carries a recognised extension at all;
// err is only meaningful when matched is true, and signals a malformed stem
// (a recognised extension on a non-hex name), which Build treats as fatal.
func contentIDFromName(name string) (id ids.ContentID, matched bool, err error) {
	for _, suffix := range []string{".cnmt.nca", ".cnmt.ncz", ".nca", ".ncz"} {
		if hasSuffixFold(name, suffix) {
			stem := name[:len(name)-len(suffix)]
			id, err = ids.ParseContentID(stem)
			return id, true, err
		}
	}
	return id, false, nil
}

// importTickets is phase 1: every ".tik" file on fsys is read and parsed
// (in parallel, one goroutine per file) and its title key recorded in
// keySet under its rights id. FS I/O errors reading a ticket propagate;
// a ticket that fails to parse or whose title key cannot be recovered is
// logged and skipped. Imports themselves are applied sequentially after
// every ticket has been parsed, since KeySet's title-key map is not
// synchronized for concurrent writers.
func importTickets(fsys vfs.FileSystem, keySet *keys.KeySet, logger Logger) error {
	type imported struct {
		rightsID ids.RightsID
		titleKey []byte
	}

	var (
		mu      sync.Mutex
		results []imported
	)

	var g errgroup.Group
	vfs.WalkFiles(fsys.Root(), func(path string, file vfs.File) {
		if !hasSuffixFold(file.Name(), ".tik") {
			return
		}
		g.Go(func() error {
			store, err := file.Open()
			if err != nil {
				return &TicketReadError{Path: path, Err: err}
			}
			buf := make([]byte, store.Size())
			if err := store.ReadAt(0, buf); err != nil {
				return &TicketReadError{Path: path, Err: err}
			}

			tik, err := ticket.Parse(buf)
			if err != nil {
				logger.Warn("aggregator: skipping unparseable ticket", "path", path, "error", err)
				return nil
			}
			titleKey, err := tik.TitleKey(keySet)
			if err != nil {
				logger.Warn("aggregator: skipping ticket with unrecoverable title key", "path", path, "error", err)
				return nil
			}

			mu.Lock()
			results = append(results, imported{rightsID: tik.RightsID, titleKey: titleKey})
			mu.Unlock()
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if err := keySet.ImportTicket(r.rightsID, r.titleKey); err != nil {
			logger.Warn("aggregator: failed to import ticket title key", "rights_id", r.rightsID.String(), "error", err)
		}
	}
	return nil
}

// buildNcaSet is phase 2: every ".nca"/".ncz" file on fsys is parsed (in
// parallel, one goroutine per file, each holding its own storage handle per
// §5). A filename that carries a recognised extension but whose stem is not
// valid hex is a hard error for the whole Build; a well-named file that
// fails to parse as an NCA is logged and skipped.
func buildNcaSet(fsys vfs.FileSystem, keySet *keys.KeySet, logger Logger) (NcaSet, error) {
	set := make(NcaSet)
	var mu sync.Mutex

	var g errgroup.Group
	var walkErr error
	vfs.WalkFiles(fsys.Root(), func(path string, file vfs.File) {
		contentID, matched, parseErr := contentIDFromName(file.Name())
		if !matched {
			return
		}
		if parseErr != nil {
			walkErr = &NcaFilenameParseError{Path: path, Err: parseErr}
			return
		}
		g.Go(func() error {
			store, err := file.Open()
			if err != nil {
				logger.Warn("aggregator: failed to open nca", "path", path, "error", err)
				return nil
			}
			n, err := nca.New(keySet, store)
			if err != nil {
				logger.Warn("aggregator: skipping unparseable nca", "content_id", contentID.String(), "path", path, "error", &NcaParseError{ContentID: contentID, Err: err})
				return nil
			}
			mu.Lock()
			set[contentID] = n
			mu.Unlock()
			return nil
		})
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

// parsedApplication, parsedPatch and parsedAddon are the tag-dispatched
// AnyContentInfo variants of §3/§4.7, built per meta NCA before phase 4
// assembles them into the final Application model.
type parsedApplication struct {
	id                        ids.ApplicationID
	patchID                   ids.PatchID
	version                   ids.Version
	metaContentID             ids.ContentID
	legalInformationContentID ids.ContentID
	programs                  map[ids.ProgramID]*Program
}

type parsedPatch struct {
	applicationID             ids.ApplicationID
	version                   ids.Version
	metaContentID             ids.ContentID
	legalInformationContentID ids.ContentID
	programs                  map[ids.ProgramID]*Program
	baseProgramIDs            map[ids.ProgramID]ids.ProgramID
}

type parsedAddon struct {
	applicationID ids.ApplicationID
	dataPatchID   ids.DataPatchID
	id            ids.DataID
	version       ids.Version
	metaContentID ids.ContentID
	contentID     ids.ContentID
}

// assembleApplications is phases 3 and 4: every Meta-type NCA is decoded
// (in parallel) into a parsedApplication/parsedPatch/parsedAddon, then the
// results are assembled sequentially into the Application model. A meta
// that fails to decode for any reason (missing .cnmt, a reference to an NCA
// never seen, an unsupported content-meta type, a broken program or control
// payload) is logged and skipped — it never aborts the rest of the set,
// mirroring the per-NCA recovery policy of §4.6.
func assembleApplications(ncas NcaSet, level integrity.CheckLevel, logger Logger) map[ids.ApplicationID]*Application {
	type result struct {
		application *parsedApplication
		patch       *parsedPatch
		addon       *parsedAddon
	}

	var (
		mu      sync.Mutex
		results []result
		wg      sync.WaitGroup
	)

	for contentID, n := range ncas {
		if n.Header().ContentType != nca.NcaContentTypeMeta {
			continue
		}
		contentID, n := contentID, n
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := parseContentMeta(contentID, n, ncas, level)
			if err != nil {
				if _, unsupported := err.(*MetaUnsupportedTypeError); unsupported {
					logger.Warn("aggregator: skipping unsupported content meta type", "meta_nca", contentID.String(), "error", err)
				} else {
					logger.Warn("aggregator: skipping unparseable content meta", "meta_nca", contentID.String(), "error", &ContentSetParseError{MetaNcaID: contentID, Err: err})
				}
				return
			}
			mu.Lock()
			results = append(results, result{application: r.application, patch: r.patch, addon: r.addon})
			mu.Unlock()
		}()
	}
	wg.Wait()

	applications := make(map[ids.ApplicationID]*Application)
	for _, r := range results {
		if r.application == nil {
			continue
		}
		a := r.application
		applications[a.id] = &Application{
			ID:          a.id,
			PatchID:     a.patchID,
			BaseVersion: a.version,
			Versions: map[ids.Version]*ApplicationVersion{
				a.version: {
					Version:       a.version,
					Kind:          VersionKindBase,
					MetaContentID: a.metaContentID,
					Programs:      a.programs,
				},
			},
			Addons: make(map[ids.DataID]*Addon),
		}
	}

	for _, r := range results {
		if r.patch == nil {
			continue
		}
		p := r.patch
		app, ok := applications[p.applicationID]
		if !ok {
			logger.Warn("aggregator: skipping patch for unknown application", "application_id", p.applicationID.String())
			continue
		}
		baseVersion, ok := app.Versions[app.BaseVersion]
		if !ok {
			logger.Warn("aggregator: application has no base version", "application_id", p.applicationID.String())
			continue
		}
		for pid, program := range p.programs {
			if baseProgramID, ok := p.baseProgramIDs[pid]; ok {
				if baseProgram, ok := baseVersion.Programs[baseProgramID]; ok {
					contentID := baseProgram.ContentID
					program.BaseContentID = &contentID
				} else {
					logger.Warn("aggregator: patch program's base program not found", "program", pid.String(), "base_program", baseProgramID.String())
				}
			}
		}
		app.Versions[p.version] = &ApplicationVersion{
			Version:       p.version,
			Kind:          VersionKindPatch,
			MetaContentID: p.metaContentID,
			Programs:      p.programs,
		}
	}

	for _, r := range results {
		if r.addon == nil {
			continue
		}
		a := r.addon
		app, ok := applications[a.applicationID]
		if !ok {
			logger.Warn("aggregator: skipping add-on for unknown application", "application_id", a.applicationID.String())
			continue
		}
		app.Addons[a.id] = &Addon{
			ID:            a.id,
			DataPatchID:   a.dataPatchID,
			Version:       a.version,
			MetaContentID: a.metaContentID,
			ContentID:     a.contentID,
		}
	}

	return applications
}

type metaResult struct {
	application *parsedApplication
	patch       *parsedPatch
	addon       *parsedAddon
}

// parseContentMeta is §4.7 phases 3's per-meta body: find and parse the
// .cnmt, validate every content reference it makes, then tag-dispatch on
// its content-meta type.
func parseContentMeta(metaContentID ids.ContentID, metaNca *nca.Nca, ncas NcaSet, level integrity.CheckLevel) (*metaResult, error) {
	meta, err := readMetaCnmt(metaNca, level)
	if err != nil {
		return nil, err
	}
	if err := validateReferences(meta, ncas); err != nil {
		return nil, err
	}

	switch meta.Type {
	case ids.ContentMetaTypeApplication:
		ext := meta.ExtendedHeader.Application
		if ext == nil {
			return nil, fmt.Errorf("application content meta has no extended header")
		}
		legalID, err := findContent(meta, ids.NcmContentTypeLegalInformation)
		if err != nil {
			return nil, &MissingLegalInformationNcaError{}
		}
		programs, _, err := buildPrograms(meta, ncas, level, nil)
		if err != nil {
			return nil, err
		}
		return &metaResult{application: &parsedApplication{
			id:                        ids.ApplicationID(meta.TitleID),
			patchID:                   ext.PatchID,
			version:                   meta.Version,
			metaContentID:             metaContentID,
			legalInformationContentID: legalID,
			programs:                  programs,
		}}, nil

	case ids.ContentMetaTypePatch:
		ext := meta.ExtendedHeader.Patch
		if ext == nil {
			return nil, fmt.Errorf("patch content meta has no extended header")
		}
		legalID, err := findContent(meta, ids.NcmContentTypeLegalInformation)
		if err != nil {
			return nil, &MissingLegalInformationNcaError{}
		}
		appID := ext.ApplicationID
		programs, baseIDs, err := buildPrograms(meta, ncas, level, &appID)
		if err != nil {
			return nil, err
		}
		return &metaResult{patch: &parsedPatch{
			applicationID:             appID,
			version:                   meta.Version,
			metaContentID:             metaContentID,
			legalInformationContentID: legalID,
			programs:                  programs,
			baseProgramIDs:            baseIDs,
		}}, nil

	case ids.ContentMetaTypeAddOnContent:
		ext := meta.ExtendedHeader.AddOnContent
		if ext == nil {
			return nil, fmt.Errorf("add-on content meta has no extended header")
		}
		dataContentID, err := findContent(meta, ids.NcmContentTypeData)
		if err != nil {
			return nil, &MissingDataNcaError{}
		}
		return &metaResult{addon: &parsedAddon{
			applicationID: ext.ApplicationID,
			dataPatchID:   ext.DataPatchID,
			id:            ids.DataID(meta.TitleID),
			version:       meta.Version,
			metaContentID: metaContentID,
			contentID:     dataContentID,
		}}, nil

	default:
		return nil, &MetaUnsupportedTypeError{Type: meta.Type}
	}
}

// findContent returns the content id of the first content_info entry of the
// given NCM type.
func findContent(meta *cnmt.PackagedContentMeta, want ids.NcmContentType) (ids.ContentID, error) {
	for _, pci := range meta.ContentInfos {
		if pci.ContentInfo.Type == want {
			return pci.ContentInfo.ContentID, nil
		}
	}
	return ids.ContentID{}, fmt.Errorf("no content of type %v", want)
}

// validateReferences is §4.7 phase 3 step 3: every content id a meta
// references (other than DeltaFragment entries) must be present in ncas.
func validateReferences(meta *cnmt.PackagedContentMeta, ncas NcaSet) error {
	for _, pci := range meta.ContentInfos {
		ci := pci.ContentInfo
		if ci.Type == ids.NcmContentTypeDeltaFragment {
			continue
		}
		if _, ok := ncas[ci.ContentID]; !ok {
			return &MissingNcaError{ContentID: ci.ContentID}
		}
	}
	return nil
}

// buildPrograms groups a meta's content_info entries by id_offset and
// builds one Program per group, per §4.7's "Program parsing". baseAppID is
// non-nil only when meta is a Patch, supplying the application id used to
// derive each program's base_program_id.
func buildPrograms(meta *cnmt.PackagedContentMeta, ncas NcaSet, level integrity.CheckLevel, baseAppID *ids.ApplicationID) (map[ids.ProgramID]*Program, map[ids.ProgramID]ids.ProgramID, error) {
	var order []uint8
	groups := make(map[uint8][]cnmt.ContentInfo)
	for _, pci := range meta.ContentInfos {
		ci := pci.ContentInfo
		if ci.Type == ids.NcmContentTypeDeltaFragment {
			continue
		}
		if _, ok := groups[ci.IDOffset]; !ok {
			order = append(order, ci.IDOffset)
		}
		groups[ci.IDOffset] = append(groups[ci.IDOffset], ci)
	}

	programs := make(map[ids.ProgramID]*Program, len(order))
	baseIDs := make(map[ids.ProgramID]ids.ProgramID, len(order))

	for _, idOffset := range order {
		pid := ids.ProgramID((uint64(meta.TitleID) &^ 0xff) | uint64(idOffset))

		var programContentID, controlContentID, htmlContentID *ids.ContentID
		for _, ci := range groups[idOffset] {
			id := ci.ContentID
			switch ci.Type {
			case ids.NcmContentTypeProgram:
				programContentID = &id
			case ids.NcmContentTypeControl:
				controlContentID = &id
			case ids.NcmContentTypeHtmlDocument:
				htmlContentID = &id
			}
		}

		if programContentID == nil {
			return nil, nil, &ProgramsParseError{Program: pid, Err: &MissingProgramContentError{}}
		}
		if controlContentID == nil {
			return nil, nil, &ProgramsParseError{Program: pid, Err: &MissingControlContentError{}}
		}

		controlNca, ok := ncas[*controlContentID]
		if !ok {
			return nil, nil, &ProgramsParseError{Program: pid, Err: &MissingNcaError{ContentID: *controlContentID}}
		}
		control, err := readControl(controlNca, level)
		if err != nil {
			return nil, nil, &ProgramsParseError{Program: pid, Err: &ControlParseError{ContentID: *controlContentID, Err: err}}
		}

		programs[pid] = &Program{
			ID:                    pid,
			ContentID:             *programContentID,
			ControlContentID:      *controlContentID,
			HtmlDocumentContentID: htmlContentID,
			Control:               control,
		}

		if baseAppID != nil {
			baseIDs[pid] = ids.ProgramIDFromApplication(*baseAppID, idOffset)
		}
	}

	return programs, baseIDs, nil
}

// readMetaCnmt is §4.7 phase 3 step 1-2: find the meta NCA's single .cnmt
// file in its Data section and parse it.
func readMetaCnmt(n *nca.Nca, level integrity.CheckLevel) (*cnmt.PackagedContentMeta, error) {
	fsys, err := n.GetFS(nca.SectionTypeData, level)
	if err != nil {
		return nil, &MetaNoDataSectionError{}
	}

	var cnmtPath string
	count := 0
	vfs.WalkFiles(fsys.Root(), func(path string, file vfs.File) {
		if hasSuffixFold(path, ".cnmt") {
			cnmtPath = path
			count++
		}
	})
	if count == 0 {
		return nil, &MetaNoCnmtError{}
	}
	if count > 1 {
		return nil, &MetaMultipleCnmtError{Count: count}
	}

	file, ok := fsys.OpenFile(cnmtPath)
	if !ok {
		return nil, &MetaCnmtOpenError{Err: fmt.Errorf("%q vanished after walk", cnmtPath)}
	}
	store, err := file.Open()
	if err != nil {
		return nil, &MetaCnmtOpenError{Err: err}
	}
	buf := make([]byte, file.Size())
	if err := store.ReadAt(0, buf); err != nil {
		return nil, &MetaCnmtReadError{Err: err}
	}
	m, err := cnmt.Parse(buf)
	if err != nil {
		return nil, &MetaCnmtParseError{Err: err}
	}
	return m, nil
}

// readControl is §3's NACP lifecycle: /control.nacp inside the control
// NCA's Data section.
func readControl(n *nca.Nca, level integrity.CheckLevel) (*nacp.ApplicationControlProperty, error) {
	fsys, err := n.GetFS(nca.SectionTypeData, level)
	if err != nil {
		return nil, err
	}
	file, ok := fsys.OpenFile("control.nacp")
	if !ok {
		return nil, fmt.Errorf("control.nacp not found")
	}
	if file.Size() != nacp.Size {
		return nil, fmt.Errorf("control.nacp is %#x bytes, want %#x", file.Size(), nacp.Size)
	}
	store, err := file.Open()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, nacp.Size)
	if err := store.ReadAt(0, buf); err != nil {
		return nil, err
	}
	return nacp.Parse(buf)
}
