// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pei

import (
	"bytes"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/usbarmory/go-pei/depex"
	"github.com/usbarmory/go-pei/fv"
	"github.com/usbarmory/go-pei/ppi"
	"github.com/usbarmory/go-pei/uefi"
)

// ModuleState represents the dispatch state of a module.
type ModuleState int

// Module states, a module never returns to a previous state.
const (
	NotDispatched ModuleState = iota
	// Dispatched modules have had their entry point invoked
	Dispatched
	// RegisteredForShadow modules have been dispatched and requested a
	// second entry from permanent memory.
	RegisteredForShadow
	// Shadowed modules have been invoked again from permanent memory.
	Shadowed
)

func (s ModuleState) String() string {
	switch s {
	case NotDispatched:
		return "not dispatched"
	case Dispatched:
		return "dispatched"
	case RegisteredForShadow:
		return "registered for shadow"
	case Shadowed:
		return "shadowed"
	default:
		return "invalid"
	}
}

// Module represents a dispatchable firmware file.
type Module struct {
	Name uefi.GUID
	// Volume is the index of the firmware volume holding the module
	Volume int
	File   *fv.File

	// Depex is the parsed dependency expression, nil when the module has
	// none.
	Depex *depex.Expression
	// DepexErr is set when the dependency expression is malformed, such
	// modules are never dispatched.
	DepexErr error

	// Apriori is set for modules listed in the volume apriori file
	Apriori bool
	// Scheduled is set by Schedule for modules starting with SOR
	Scheduled bool

	State ModuleState
	Image *Image

	depexRead bool
	loadErr   error
}

// Dispatched returns whether the module entry point has been invoked.
func (m *Module) Dispatched() bool {
	return m.State != NotDispatched
}

type volumeScan struct {
	files   []*fv.File
	apriori []uefi.GUID
}

type dispatchState struct {
	volumes   []*fv.Volume
	modules   map[uint64]*Module
	order     []*Module
	corrupted map[uint64]bool
	cache     *lru.Cache[uint64, *volumeScan]
}

func newDispatchState(cacheSize int) (s *dispatchState, err error) {
	s = &dispatchState{
		modules:   make(map[uint64]*Module),
		corrupted: make(map[uint64]bool),
	}

	s.cache, err = newScanCache(cacheSize)

	return
}

func dispatchable(t fv.FileType) bool {
	switch t {
	case fv.TypePeim, fv.TypeCombinedPeimDriver, fv.TypeFirmwareVolumeImage:
		return true
	default:
		return false
	}
}

// addVolume registers a firmware volume for dispatch.
func (c *CoreInstance) addVolume(base uint64) (err error) {
	var v *fv.Volume

	for _, known := range c.dispatch.volumes {
		if known.Base == base {
			return nil
		}
	}

	if len(c.dispatch.volumes) >= c.Config.MaxVolumes {
		c.Log.Info("firmware volume limit reached", "base", fmt.Sprintf("%#x", base))
		return uefi.ErrOutOfResources
	}

	if v, err = fv.Open(c.Memory, base); err != nil {
		return
	}

	c.dispatch.volumes = append(c.dispatch.volumes, v)

	c.Log.Info("firmware volume", "index", len(c.dispatch.volumes)-1, "base", fmt.Sprintf("%#x", base), "length", v.FvLength)

	return
}

// Volumes returns the firmware volumes known to the dispatcher.
func (c *CoreInstance) Volumes() []*fv.Volume {
	return append([]*fv.Volume(nil), c.dispatch.volumes...)
}

// Modules returns the discovered modules in discovery order.
func (c *CoreInstance) Modules() []*Module {
	return append([]*Module(nil), c.dispatch.order...)
}

// Module returns the discovered module with the argument name.
func (c *CoreInstance) Module(name uefi.GUID) (*Module, error) {
	c.discover()

	for _, m := range c.dispatch.order {
		if m.Name == name {
			return m, nil
		}
	}

	return nil, uefi.ErrNotFound
}

func (c *CoreInstance) scan(v *fv.Volume) (s *volumeScan, err error) {
	var ok bool

	if s, ok = c.dispatch.cache.Get(v.Base); ok {
		return
	}

	s = &volumeScan{}

	if s.files, err = v.Files(); err != nil {
		return nil, err
	}

	for _, f := range s.files {
		if f.Name != fv.PeiAprioriFileGuid {
			continue
		}

		if s.apriori, err = f.Apriori(); err != nil {
			return nil, err
		}

		break
	}

	c.dispatch.cache.Add(v.Base, s)

	return
}

// modules returns the modules of a volume in dispatch order, apriori
// modules first.
func (c *CoreInstance) modules(i int) (list []*Module, err error) {
	var s *volumeScan

	if s, err = c.scan(c.dispatch.volumes[i]); err != nil {
		return
	}

	var rest []*Module

	byName := make(map[uefi.GUID]*Module)

	for _, f := range s.files {
		if !dispatchable(f.Type) {
			continue
		}

		m, ok := c.dispatch.modules[f.Handle]

		if !ok {
			m = &Module{
				Name:   f.Name,
				Volume: i,
				File:   f,
			}

			c.dispatch.modules[f.Handle] = m
			c.dispatch.order = append(c.dispatch.order, m)
		}

		rest = append(rest, m)
		byName[m.Name] = m
	}

	seen := make(map[uefi.GUID]bool)

	for _, name := range s.apriori {
		m, ok := byName[name]

		if !ok {
			c.Log.V(1).Info("apriori module not found", "module", name)
			continue
		}

		if seen[name] {
			continue
		}

		seen[name] = true
		m.Apriori = true
		list = append(list, m)
	}

	for _, m := range rest {
		if !seen[m.Name] {
			list = append(list, m)
		}
	}

	return
}

// discover registers the modules of every volume.
func (c *CoreInstance) discover() {
	for i, v := range c.dispatch.volumes {
		if c.dispatch.corrupted[v.Base] {
			continue
		}

		if _, err := c.modules(i); err != nil {
			c.dispatch.corrupted[v.Base] = true
			c.Log.Error(err, "firmware volume skipped", "base", fmt.Sprintf("%#x", v.Base))
			c.report(EFI_ERROR_CODE|EFI_ERROR_MINOR, EFI_SW_EC_LOAD_ERROR, nil)
		}
	}
}

func (c *CoreInstance) present(guid uefi.GUID) bool {
	_, err := c.Ppi.Locate(guid, 0)
	return err == nil
}

// readDepex loads the dependency expression of a module, it returns false
// when the expression is not available or malformed.
func (c *CoreInstance) readDepex(m *Module) bool {
	if m.depexRead {
		return m.DepexErr == nil
	}

	s, err := fv.FindSection(m.File.Data, fv.SectionPeiDepex, 0, c.extractor)

	switch {
	case err == nil:
		m.Depex, m.DepexErr = depex.Parse(s.Data)
	case errors.Is(err, uefi.ErrNotAvailableYet):
		c.Log.V(1).Info("dependency expression not yet available", "module", m.Name, "err", err)
		return false
	case errors.Is(err, uefi.ErrNotFound):
		m.Depex = nil
	default:
		m.DepexErr = err
	}

	m.depexRead = true

	if m.DepexErr != nil {
		c.Log.Error(m.DepexErr, "invalid dependency expression, module will not be dispatched", "module", m.Name)
		c.report(EFI_ERROR_CODE|EFI_ERROR_MINOR, EFI_SW_EC_INVALID_PARAMETER, &m.Name)
	}

	return m.DepexErr == nil
}

// dependencySatisfied evaluates a module dependency expression against the
// PPI database.
func (c *CoreInstance) dependencySatisfied(m *Module) bool {
	if m.Apriori {
		return true
	}

	if !c.readDepex(m) {
		return false
	}

	e := m.Depex

	switch {
	case e == nil:
		return true
	case e.Before != nil:
		t, err := c.Module(*e.Before)

		if err != nil || !t.Dispatched() {
			// dispatched by its target
			return false
		}

		// the target window was missed, run at the first opportunity
		c.Log.V(1).Info("ordering target already dispatched", "module", m.Name, "before", t.Name)

		return true
	case e.After != nil:
		t, err := c.Module(*e.After)
		return err == nil && t.Dispatched()
	case e.Schedule && !m.Scheduled:
		return false
	}

	ok, err := e.Evaluate(c.present)

	if err != nil {
		m.DepexErr = err
		c.Log.Error(err, "dependency expression evaluation failed", "module", m.Name)
		c.report(EFI_ERROR_CODE|EFI_ERROR_MINOR, EFI_SW_EC_INVALID_PARAMETER, &m.Name)
		return false
	}

	return ok
}

// Schedule clears the schedule on request (SOR) flag of a module.
func (c *CoreInstance) Schedule(name uefi.GUID) error {
	m, err := c.Module(name)

	if err != nil {
		return err
	}

	if m.Dispatched() || !c.readDepex(m) || m.Depex == nil || !m.Depex.Schedule {
		return uefi.ErrNotFound
	}

	m.Scheduled = true

	return nil
}

// hinted returns the undispatched modules carrying a BEFORE (or AFTER)
// ordering hint for the argument module.
func (c *CoreInstance) hinted(name uefi.GUID, before bool) (list []*Module) {
	for _, m := range c.dispatch.order {
		if m.Dispatched() || !c.readDepex(m) || m.Depex == nil {
			continue
		}

		target := m.Depex.After

		if before {
			target = m.Depex.Before
		}

		if target != nil && *target == name {
			list = append(list, m)
		}
	}

	return
}

// dispatcher runs dispatch passes until a pass dispatches nothing or the
// memory transition is pending.
func (c *CoreInstance) dispatcher() error {
	for {
		c.shadowRegistered()

		if !c.dispatchPass() || c.SwitchStackSignal {
			return nil
		}
	}
}

// dispatchPass dispatches the first module, in volume order, whose
// dependencies are satisfied. It returns whether a module was dispatched,
// the scan always restarts from the first volume.
func (c *CoreInstance) dispatchPass() bool {
	c.discover()

	for i := 0; i < len(c.dispatch.volumes); i++ {
		if c.dispatch.corrupted[c.dispatch.volumes[i].Base] {
			continue
		}

		modules, err := c.modules(i)

		if err != nil {
			continue
		}

		for _, m := range modules {
			if m.Dispatched() || !c.dependencySatisfied(m) {
				continue
			}

			if c.dispatchOrdered(m) {
				return true
			}
		}
	}

	return false
}

// dispatchOrdered dispatches a module surrounded by the modules which must
// run immediately before and after it.
func (c *CoreInstance) dispatchOrdered(m *Module) bool {
	for _, b := range c.hinted(m.Name, true) {
		c.dispatchOrdered(b)

		if c.SwitchStackSignal {
			return true
		}
	}

	if !c.dispatchModule(m) {
		return false
	}

	for _, a := range c.hinted(m.Name, false) {
		if c.SwitchStackSignal {
			break
		}

		c.dispatchOrdered(a)
	}

	return true
}

// verify consults the security PPI, when installed.
func (c *CoreInstance) verify(m *Module) error {
	d, err := c.Ppi.Locate(Security2PpiGuid, 0)

	if err != nil {
		return nil
	}

	sec, ok := d.Interface.(Security)

	if !ok {
		return fmt.Errorf("%w: invalid security PPI", uefi.ErrUnsupported)
	}

	deferExecution, err := sec.AuthenticationState(c.Services, 0, c.dispatch.volumes[m.Volume], m.File)

	switch {
	case err != nil:
		return fmt.Errorf("%w, %w", uefi.ErrSecurityViolation, err)
	case deferExecution:
		return fmt.Errorf("%w: execution deferred", uefi.ErrSecurityViolation)
	}

	return nil
}

func (c *CoreInstance) loadFailed(m *Module, err error) {
	if m.loadErr == nil || m.loadErr.Error() != err.Error() {
		c.Log.Info("module not dispatched", "module", m.Name, "err", err.Error())
	}

	m.loadErr = err
}

// dispatchModule invokes a module entry point, or processes a firmware
// volume file, it returns false when the module could not be dispatched.
func (c *CoreInstance) dispatchModule(m *Module) bool {
	var img *Image
	var err error

	if m.File.Type != fv.TypeFirmwareVolumeImage {
		if img, err = c.loadImage(m, false); err != nil {
			c.loadFailed(m, err)

			if !errors.Is(err, uefi.ErrNotAvailableYet) {
				c.report(EFI_ERROR_CODE|EFI_ERROR_MINOR, EFI_SW_EC_LOAD_ERROR, &m.Name)
			}

			return false
		}
	}

	if err = c.verify(m); err != nil {
		c.loadFailed(m, err)
		c.report(EFI_ERROR_CODE|EFI_ERROR_MAJOR, EFI_SW_PEI_CORE_EC_PEIM_SECURITY_FAILURE, &m.Name)
		return false
	}

	if img == nil {
		if err = c.processVolumeFile(m); errors.Is(err, uefi.ErrNotAvailableYet) {
			c.loadFailed(m, err)
			return false
		}

		m.State = Dispatched

		if err != nil {
			c.Log.Error(err, "firmware volume file failed", "file", m.Name)
			c.report(EFI_ERROR_CODE|EFI_ERROR_MINOR, EFI_SW_EC_LOAD_ERROR, &m.Name)
		}

		c.Ppi.ProcessDispatchNotifications()

		return true
	}

	c.CurrentModule = m
	m.Image = img
	m.State = Dispatched

	c.Log.Info("dispatch", "module", m.Name, "image", fmt.Sprintf("%#x", img.Base))

	rec := c.perf.start(m.Name, "PEIM", c.Config.Now())
	c.report(EFI_PROGRESS_CODE, EFI_SW_PC_INIT_BEGIN, &m.Name)

	if err = img.Entry(m.File.Handle, c.Services); err != nil {
		c.Log.Error(err, "module entry point failed", "module", m.Name)
		c.report(EFI_ERROR_CODE|EFI_ERROR_MINOR, EFI_SW_EC_START_ERROR, &m.Name)
	}

	c.report(EFI_PROGRESS_CODE, EFI_SW_PC_INIT_END, &m.Name)
	c.perf.end(rec, c.Config.Now())

	c.CurrentModule = nil

	c.Ppi.ProcessDispatchNotifications()

	return true
}

// shadowRegistered invokes, from permanent memory, the modules which
// registered for shadowing. Shadowing is skipped on S3 resume.
func (c *CoreInstance) shadowRegistered() {
	if !c.PeiMemoryInstalled {
		return
	}

	if mode, err := c.bootMode(); err != nil || mode == BOOT_ON_S3_RESUME {
		return
	}

	for _, m := range c.dispatch.order {
		if m.State != RegisteredForShadow {
			continue
		}

		m.State = Shadowed

		img, err := c.loadImage(m, true)

		if err != nil {
			c.Log.Error(err, "module shadowing failed", "module", m.Name)
			continue
		}

		m.Image = img
		c.CurrentModule = m

		rec := c.perf.start(m.Name, "PEIM shadow", c.Config.Now())

		if err = img.Entry(m.File.Handle, c.Services); err != nil {
			c.Log.Error(err, "shadowed module entry point failed", "module", m.Name)
			c.report(EFI_ERROR_CODE|EFI_ERROR_MINOR, EFI_SW_EC_START_ERROR, &m.Name)
		}

		c.perf.end(rec, c.Config.Now())
		c.CurrentModule = nil

		c.Ppi.ProcessDispatchNotifications()
	}
}

// registerForShadow requests a second invocation of the running module once
// permanent memory is installed.
func (c *CoreInstance) registerForShadow(file uint64) error {
	m := c.CurrentModule

	if m == nil || m.File.Handle != file {
		return uefi.ErrNotFound
	}

	if m.State != Dispatched {
		return uefi.ErrAlreadyStarted
	}

	m.State = RegisteredForShadow

	return nil
}

// processVolumeFile installs the firmware volume image held by a file, the
// volume is announced with a firmware volume HOB and a firmware volume info
// PPI.
func (c *CoreInstance) processVolumeFile(m *Module) (err error) {
	var s *fv.Section
	var v *fv.Volume
	var base uint64

	if s, err = fv.FindSection(m.File.Data, fv.SectionFirmwareVolume, 0, c.extractor); err != nil {
		return
	}

	if v, err = fv.Open(bytes.NewReader(s.Data), 0); err != nil {
		return
	}

	if v.FvLength > uint64(len(s.Data)) {
		return fmt.Errorf("%w: volume length exceeds section", fv.ErrCorrupted)
	}

	size := v.FvLength

	if base, err = c.HobList.AllocatePages(uefi.EfiBootServicesData, uefi.SizeToPages(size)); err != nil {
		return
	}

	if err = c.Memory.Write(base, s.Data[:size]); err != nil {
		return
	}

	if err = c.HobList.BuildFvHob(base, size, uefi.ZeroGUID, m.Name); err != nil {
		return
	}

	c.Log.Info("firmware volume file", "file", m.Name, "base", fmt.Sprintf("%#x", base), "length", size)

	_, err = c.Ppi.Install(&ppi.Descriptor{
		Flags: ppi.FlagPpi | ppi.FlagTerminateList,
		GUID:  FirmwareVolumeInfoPpiGuid,
		Interface: &FirmwareVolumeInfo{
			FvFormat:       v.FileSystemGuid,
			FvInfo:         base,
			FvInfoSize:     size,
			ParentFileName: m.Name,
		},
		Address: base,
	})

	return
}
