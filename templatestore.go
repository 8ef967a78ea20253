/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flowcore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TemplateKey identifies a compiled template by the exporter that defined it
// and that exporter's own template numbering. The same numeric TemplateId
// from two different exporters (or two observation domains of the same
// exporter) names two distinct templates.
type TemplateKey struct {
	ObservationDomainId uint32
	TemplateId          uint16
}

// NewTemplateKey builds a TemplateKey, doubling ObservationDomainId as both
// NetFlow v9's Source ID and IPFIX's Observation Domain ID.
func NewTemplateKey(observationDomainId uint32, templateId uint16) TemplateKey {
	return TemplateKey{ObservationDomainId: observationDomainId, TemplateId: templateId}
}

func (k TemplateKey) String() string {
	return fmt.Sprintf("%d-%d", k.ObservationDomainId, k.TemplateId)
}

// OptionScope names the metadata an options template record can carry in
// place of flow data.
type OptionScope uint8

const (
	OptionScopeUnknown OptionScope = iota
	OptionScopeSampler
	OptionScopeInterfaceName
	OptionScopeVRFName
	OptionScopeNBAR
	OptionScopeSysUptime
)

// optionTag maps an information-element number to the scope it feeds and the
// field it represents within that scope, grounded on the legacy and modern
// sampler/interface/VRF/NBAR option tag numbers nfdump recognizes.
type optionTag struct {
	scope OptionScope
	field string
}

// optionTagTable is the closed set of option-template field tags flowcore
// interprets. Legacy tags 48/49/34/35 predate the modern sampler IE numbering
// (302/304/305/306) and are kept side by side rather than normalized away,
// since both appear in the wild from different exporter software versions.
var optionTagTable = map[uint16]optionTag{
	48:  {OptionScopeSampler, "samplerId"},
	302: {OptionScopeSampler, "samplerId"},
	49:  {OptionScopeSampler, "samplerAlgorithm"},
	304: {OptionScopeSampler, "samplerAlgorithm"},
	305: {OptionScopeSampler, "samplerPacketInterval"},
	34:  {OptionScopeSampler, "samplerPacketInterval"}, // legacy STDSAMPLING
	306: {OptionScopeSampler, "samplerPacketSpace"},
	35:  {OptionScopeSampler, "samplerPacketSpace"}, // legacy STDSAMPLING
	82:  {OptionScopeInterfaceName, "ifName"},
	83:  {OptionScopeInterfaceName, "ifDescription"},
	234: {OptionScopeVRFName, "ingressVRFID"},
	235: {OptionScopeVRFName, "egressVRFID"},
	236: {OptionScopeVRFName, "vrfName"},
	95:  {OptionScopeNBAR, "applicationId"},
	96:  {OptionScopeNBAR, "applicationName"},
	94:  {OptionScopeNBAR, "applicationDescription"},
	161: {OptionScopeSysUptime, "systemInitTimeMilliseconds"},
}

// OptionField is one decoded field of an options record, keyed by the name
// from optionTagTable.
type OptionField struct {
	Name  string
	Value []byte
}

// OptionsRecord is a fully decoded option-template data record: metadata
// about an exporter's sampler, interfaces, VRFs, NBAR application table, or
// boot time, rather than flow data.
type OptionsRecord struct {
	Scope  OptionScope
	Fields []OptionField
}

// TemplateEntry is one compiled template together with the bookkeeping the
// cache needs to age it out.
type TemplateEntry struct {
	Key       TemplateKey
	Sequencer *Sequencer

	// IsOption marks this as an options-template definition rather than
	// a data-record template; such entries do not have a Sequencer and
	// instead carry optionLayout below.
	IsOption     bool
	optionLayout []optionLayoutEntry

	created  time.Time
	deadline time.Time
	expired  bool
}

type optionLayoutEntry struct {
	tag    optionTag
	offset int
	length int
}

// TemplateCache stores compiled templates and options-template layouts,
// keyed by (observation domain, template id), and expires entries that have
// not been refreshed within a configured timeout. It is the analogue of the
// original's DecayingEphemeralCache, generalized from storing opaque
// *Template values to storing *TemplateEntry.
type TemplateCache struct {
	mu      sync.RWMutex
	entries map[TemplateKey]*TemplateEntry
	timeout time.Duration
}

// NewTemplateCache creates a cache that expires unrefreshed templates after
// timeout. A timeout of 0 disables expiry.
func NewTemplateCache(timeout time.Duration) *TemplateCache {
	return &TemplateCache{
		entries: map[TemplateKey]*TemplateEntry{},
		timeout: timeout,
	}
}

// Put installs or refreshes a data-record template.
func (c *TemplateCache) Put(key TemplateKey, seq *Sequencer) {
	c.mu.Lock()
	now := monotonicNow()
	c.entries[key] = &TemplateEntry{
		Key:       key,
		Sequencer: seq,
		created:   now,
		deadline:  c.deadlineFrom(now),
	}
	c.mu.Unlock()
	c.reportActive()
}

// PutOption installs or refreshes an options-template layout.
func (c *TemplateCache) PutOption(key TemplateKey, layout []optionLayoutEntry) {
	c.mu.Lock()
	now := monotonicNow()
	c.entries[key] = &TemplateEntry{
		Key:          key,
		IsOption:     true,
		optionLayout: layout,
		created:      now,
		deadline:     c.deadlineFrom(now),
	}
	c.mu.Unlock()
	c.reportActive()
}

// reportActive refreshes the TemplatesActive gauge with the current count
// of non-expired entries.
func (c *TemplateCache) reportActive() {
	c.mu.RLock()
	active := 0
	for _, e := range c.entries {
		if !e.expired {
			active++
		}
	}
	c.mu.RUnlock()
	TemplatesActive.Set(float64(active))
}

func (c *TemplateCache) deadlineFrom(now time.Time) time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return now.Add(c.timeout)
}

// Get looks up a template by key. ok is false both when the key was never
// seen and when its entry has since expired; Get does not tell the two
// cases apart.
func (c *TemplateCache) Get(key TemplateKey) (entry *TemplateEntry, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[key]
	if !found || e.expired {
		return nil, false
	}
	return e, true
}

// ErrUnknownTemplate is returned by decode paths that require a template to
// already be present in the cache.
var ErrUnknownTemplate = fmt.Errorf("flowcore: template not found")

// TemplateNotFound wraps ErrUnknownTemplate with the offending key.
func TemplateNotFound(key TemplateKey) error {
	return fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
}

// Delete removes a template immediately, e.g. on exporter reset.
func (c *TemplateCache) Delete(key TemplateKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.reportActive()
}

// expireStale marks, without deleting, any entry whose deadline has passed.
// An expired entry stays in the map until Put refreshes it or Delete
// removes it, but Get reports it as absent, the same as a key never seen.
func (c *TemplateCache) expireStale(now time.Time) {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.deadline.IsZero() || e.expired {
			continue
		}
		if now.After(e.deadline) {
			e.expired = true
		}
	}
	c.mu.Unlock()
	c.reportActive()
}

// Start runs the aging loop until ctx is canceled, sweeping every interval.
func (c *TemplateCache) Start(ctx context.Context, interval time.Duration) {
	if c.timeout <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.expireStale(now)
		}
	}
}

// monotonicNow isolates the one non-deterministic call the cache needs
// behind a seam, so tests can substitute a fixed clock.
var monotonicNow = time.Now
