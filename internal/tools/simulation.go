package tools

import (
	"context"
	"sort"
	"sync"
)

// Simulation flags steer deterministic tool outcomes at runtime. Flags are
// scoped to the registry instance that holds them, never process-global, and
// can be flipped while runs are in flight via the debug surface.
//
// Known flags:
//
//	pan_mismatch            validate_pan reports a holder name mismatch
//	gstin_inactive          validate_gstin reports an inactive registration
//	aadhaar_invalid         validate_aadhaar fails the checksum
//	document_blurry         extract_document_text returns low confidence
//	document_name_mismatch  validate_document_content flags a name mismatch
//	bank_account_invalid    validate_account_number rejects the account
//	penny_drop_fail         penny_drop_verify returns a failed deposit
//	ssl_invalid             check_ssl reports an expired certificate
//	website_unreachable     fetch_webpage fails to connect
//	policies_missing        check_page_policies finds no policy pages
//	domain_too_young        check_domain_age reports a recent registration
//	notify_fail             notification tools fail to deliver
type Simulation struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewSimulation creates a Simulation with all flags off.
func NewSimulation() *Simulation {
	return &Simulation{flags: make(map[string]bool)}
}

// Set flips a flag. Setting a flag to false removes it from the snapshot.
func (s *Simulation) Set(name string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.flags[name] = true
		return
	}
	delete(s.flags, name)
}

// Enabled reports whether a flag is on. Nil receivers report false so tools
// can run without a simulation attached.
func (s *Simulation) Enabled(name string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// Snapshot returns the sorted names of all enabled flags.
func (s *Simulation) Snapshot() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.flags))
	for name := range s.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset turns every flag off.
func (s *Simulation) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = make(map[string]bool)
}

type simFlagsKey struct{}

// WithSimFlags returns a context carrying extra simulation flags for a
// single run. Tools invoked under that context see the registry's flags
// plus these, without the shared flag set ever changing.
func WithSimFlags(ctx context.Context, flags ...string) context.Context {
	if len(flags) == 0 {
		return ctx
	}
	return context.WithValue(ctx, simFlagsKey{}, flags)
}

func simFlagsFrom(ctx context.Context) []string {
	flags, _ := ctx.Value(simFlagsKey{}).([]string)
	return flags
}

// overlay builds a Simulation holding the receiver's flags plus extra
// ones. The receiver is left untouched.
func (s *Simulation) overlay(extra []string) *Simulation {
	if len(extra) == 0 {
		return s
	}
	merged := NewSimulation()
	for _, name := range s.Snapshot() {
		merged.flags[name] = true
	}
	for _, name := range extra {
		merged.flags[name] = true
	}
	return merged
}
