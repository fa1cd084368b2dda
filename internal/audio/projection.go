// Package audio owns the canonical table of remote audio sources, keeps it
// synchronized with the control-protocol event stream, and derives
// display-ready values from raw meter levels.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/obsmix/obs-midi-mixer/internal/config"
	"github.com/obsmix/obs-midi-mixer/internal/events"
	"github.com/obsmix/obs-midi-mixer/internal/obs"
)

// ErrNotFound reports a reference to a source or scene that is not tracked.
var ErrNotFound = errors.New("not found")

// Client is the control-protocol surface the projection drives. Implemented
// by obs.Session; a fake suffices in tests.
type Client interface {
	Call(ctx context.Context, requestType string, requestData any) (json.RawMessage, error)
	Ready() bool
}

// MappingRemover lets the projection drop a control mapping when its target
// source disappears. Implemented by the MIDI session's mapping API; the
// projection never touches the mapping table directly.
type MappingRemover interface {
	RemoveMapping(controlID string)
}

// audioKindMarkers is the allow-list of input kinds treated as mixable audio.
var audioKindMarkers = []string{
	"audio",
	"wasapi_input_capture",
	"wasapi_output_capture",
	"pulse_input_capture",
	"pulse_output_capture",
	"alsa_input_capture",
	"coreaudio_input_capture",
	"coreaudio_output_capture",
}

func isAudioKind(kind string) bool {
	if kind == "" {
		return false
	}
	for _, marker := range audioKindMarkers {
		if strings.Contains(kind, marker) {
			return true
		}
	}
	return false
}

// Projection is the audio state projection.
type Projection struct {
	logger   *zap.SugaredLogger
	bus      *events.Bus
	cfg      *config.Store
	client   Client
	mappings MappingRemover

	mu      sync.RWMutex
	sources map[string]*Source
	scenes  []Scene
}

// NewProjection creates an empty projection bound to a control-protocol
// client.
func NewProjection(client Client, cfg *config.Store, bus *events.Bus, logger *zap.SugaredLogger) *Projection {
	return &Projection{
		logger:  logger.Named("audio"),
		bus:     bus,
		cfg:     cfg,
		client:  client,
		sources: make(map[string]*Source),
	}
}

// SetMappingRemover injects the mapping API used to drop mappings whose
// target source was removed remotely.
func (p *Projection) SetMappingRemover(m MappingRemover) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mappings = m
}

// Bind subscribes the projection to the bus events it consumes. Call once
// after construction.
func (p *Projection) Bind() {
	p.bus.Subscribe(events.KindConnected, func(events.Event) {
		go func() {
			if _, err := p.Refresh(context.Background()); err != nil {
				p.logger.Warnw("initial source refresh failed", "error", err)
			}
			if _, err := p.RefreshScenes(context.Background()); err != nil {
				p.logger.Warnw("initial scene refresh failed", "error", err)
			}
		}()
	})

	p.bus.Subscribe(events.KindDisconnected, func(events.Event) {
		p.clear()
	})

	p.bus.Subscribe(events.KindMeterBatch, func(e events.Event) {
		p.HandleMeterBatch(e.(events.MeterBatch))
	})

	p.bus.Subscribe(events.KindVolumeChanged, func(e events.Event) {
		ev := e.(events.VolumeChanged)
		p.mu.Lock()
		if src, ok := p.sources[ev.Source]; ok {
			src.Volume = ev.Volume
		}
		p.mu.Unlock()
	})

	p.bus.Subscribe(events.KindMuteChanged, func(e events.Event) {
		ev := e.(events.MuteChanged)
		p.mu.Lock()
		if src, ok := p.sources[ev.Source]; ok {
			src.Muted = ev.Muted
		}
		p.mu.Unlock()
	})

	p.bus.Subscribe(events.KindInputCreated, func(events.Event) {
		go func() {
			if _, err := p.Refresh(context.Background()); err != nil {
				p.logger.Warnw("refresh after input creation failed", "error", err)
			}
		}()
	})

	p.bus.Subscribe(events.KindInputRemoved, func(e events.Event) {
		p.handleInputRemoved(e.(events.InputRemoved).Source)
	})

	p.bus.Subscribe(events.KindSceneCreated, func(events.Event) {
		go p.refreshScenesQuiet()
	})
	p.bus.Subscribe(events.KindSceneRemoved, func(events.Event) {
		go p.refreshScenesQuiet()
	})
}

// Refresh queries the full remote input list, filters it to audio-capable
// kinds, fetches volume and mute per source and replaces the internal table
// wholesale. A failing per-source query leaves that source at safe defaults
// instead of aborting the batch. Runtime meter history does not survive a
// refresh.
func (p *Projection) Refresh(ctx context.Context) ([]Source, error) {
	if !p.client.Ready() {
		return nil, obs.ErrNotReady
	}

	raw, err := p.client.Call(ctx, obs.RequestGetInputList, nil)
	if err != nil {
		return nil, fmt.Errorf("get input list: %w", err)
	}
	var list obs.InputListResponse
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("get input list: %w", err)
	}

	now := time.Now()
	next := make(map[string]*Source)
	for _, in := range list.Inputs {
		if !isAudioKind(in.InputKind) {
			continue
		}

		src := &Source{
			Name:       in.InputName,
			Kind:       in.InputKind,
			Volume:     1.0,
			LevelDb:    dbFloor,
			LastUpdate: now,
		}

		if volRaw, err := p.client.Call(ctx, obs.RequestGetInputVolume, map[string]any{"inputName": in.InputName}); err == nil {
			var vol obs.InputVolumeResponse
			if err := json.Unmarshal(volRaw, &vol); err == nil {
				src.Volume = vol.InputVolumeMul
			}
		} else {
			p.logger.Warnw("could not get volume, using default", "source", in.InputName, "error", err)
		}

		if muteRaw, err := p.client.Call(ctx, obs.RequestGetInputMute, map[string]any{"inputName": in.InputName}); err == nil {
			var mute obs.InputMuteResponse
			if err := json.Unmarshal(muteRaw, &mute); err == nil {
				src.Muted = mute.InputMuted
			}
		} else {
			p.logger.Warnw("could not get mute state, using default", "source", in.InputName, "error", err)
		}

		p.applySavedSettings(src)
		next[src.Name] = src
	}

	p.mu.Lock()
	p.sources = next
	p.mu.Unlock()

	p.logger.Infow("sources refreshed", "count", len(next))
	p.publishSourcesUpdated()
	return p.Sources(), nil
}

// applySavedSettings seeds a freshly created record from the persisted
// per-source configuration.
func (p *Projection) applySavedSettings(src *Source) {
	saved, ok := p.cfg.GetSection("audio.sources")[src.Name].(map[string]any)
	if !ok {
		return
	}
	if v, ok := saved["volume"].(float64); ok {
		src.Volume = v
	}
	if m, ok := saved["muted"].(bool); ok {
		src.Muted = m
	}
	if id, ok := saved["midiMapping"].(string); ok {
		src.MidiMapping = id
	}
}

// RefreshScenes queries the remote scene list and replaces the tracked set.
func (p *Projection) RefreshScenes(ctx context.Context) ([]Scene, error) {
	if !p.client.Ready() {
		return nil, obs.ErrNotReady
	}

	raw, err := p.client.Call(ctx, obs.RequestGetSceneList, nil)
	if err != nil {
		return nil, fmt.Errorf("get scene list: %w", err)
	}
	var list obs.SceneListResponse
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("get scene list: %w", err)
	}

	scenes := make([]Scene, 0, len(list.Scenes))
	names := make([]string, 0, len(list.Scenes))
	for _, sc := range list.Scenes {
		scenes = append(scenes, Scene{Name: sc.SceneName, Index: sc.SceneIndex})
		names = append(names, sc.SceneName)
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Index < scenes[j].Index })

	p.mu.Lock()
	p.scenes = scenes
	p.mu.Unlock()

	p.bus.Publish(events.ScenesUpdated{Scenes: names})
	return scenes, nil
}

func (p *Projection) refreshScenesQuiet() {
	if _, err := p.RefreshScenes(context.Background()); err != nil {
		p.logger.Warnw("scene refresh failed", "error", err)
	}
}

// SetVolume sets a tracked source's volume. The value is clamped to [0,1]
// and passed through linearly; the local record is updated only after the
// remote call succeeds.
func (p *Projection) SetVolume(ctx context.Context, name string, volume float64) error {
	p.mu.RLock()
	_, ok := p.sources[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("source %q: %w", name, ErrNotFound)
	}

	volume = clamp01(volume)

	_, err := p.client.Call(ctx, obs.RequestSetInputVolume, map[string]any{
		"inputName":      name,
		"inputVolumeMul": volume,
	})
	if err != nil {
		return fmt.Errorf("set volume for %q: %w", name, err)
	}

	p.mu.Lock()
	if src, ok := p.sources[name]; ok {
		src.Volume = volume
	}
	p.mu.Unlock()

	p.saveSourceSetting(name, "volume", volume)
	return nil
}

// SetMute sets a tracked source's mute state.
func (p *Projection) SetMute(ctx context.Context, name string, muted bool) error {
	p.mu.RLock()
	_, ok := p.sources[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("source %q: %w", name, ErrNotFound)
	}

	_, err := p.client.Call(ctx, obs.RequestSetInputMute, map[string]any{
		"inputName":  name,
		"inputMuted": muted,
	})
	if err != nil {
		return fmt.Errorf("set mute for %q: %w", name, err)
	}

	p.mu.Lock()
	if src, ok := p.sources[name]; ok {
		src.Muted = muted
	}
	p.mu.Unlock()

	p.saveSourceSetting(name, "muted", muted)
	return nil
}

// ToggleMute flips a tracked source's mute state. The resulting state comes
// from the remote response, not local inference.
func (p *Projection) ToggleMute(ctx context.Context, name string) (bool, error) {
	p.mu.RLock()
	_, ok := p.sources[name]
	p.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("source %q: %w", name, ErrNotFound)
	}

	raw, err := p.client.Call(ctx, obs.RequestToggleInputMute, map[string]any{"inputName": name})
	if err != nil {
		return false, fmt.Errorf("toggle mute for %q: %w", name, err)
	}
	var resp obs.InputMuteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("toggle mute for %q: %w", name, err)
	}

	p.mu.Lock()
	if src, ok := p.sources[name]; ok {
		src.Muted = resp.InputMuted
	}
	p.mu.Unlock()

	p.saveSourceSetting(name, "muted", resp.InputMuted)
	return resp.InputMuted, nil
}

// SetScene switches the remote program scene by name.
func (p *Projection) SetScene(ctx context.Context, name string) error {
	_, err := p.client.Call(ctx, obs.RequestSetCurrentProgramScene, map[string]any{"sceneName": name})
	if err != nil {
		return fmt.Errorf("set scene %q: %w", name, err)
	}
	return nil
}

// HandleMeterBatch applies one high-volume meter event to every tracked
// source it mentions, in the order delivered.
func (p *Projection) HandleMeterBatch(batch events.MeterBatch) {
	now := time.Now()
	updated := false

	p.mu.Lock()
	for _, level := range batch.Levels {
		src, ok := p.sources[level.Source]
		if !ok {
			continue
		}
		src.applyMeterSample(level.Amplitude, level.Db, now)
		updated = true
	}
	p.mu.Unlock()

	if updated {
		p.bus.Publish(events.LevelsUpdated{})
	}
}

// AssignMapping records the mapping back-reference on a tracked source and
// persists it.
func (p *Projection) AssignMapping(name, controlID string) error {
	p.mu.Lock()
	src, ok := p.sources[name]
	if ok {
		src.MidiMapping = controlID
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("source %q: %w", name, ErrNotFound)
	}
	p.saveSourceSetting(name, "midiMapping", controlID)
	return nil
}

// Source returns a copy of one tracked source.
func (p *Projection) Source(name string) (Source, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src, ok := p.sources[name]
	if !ok {
		return Source{}, false
	}
	return *src, true
}

// Sources returns copies of every tracked source, sorted by name.
func (p *Projection) Sources() []Source {
	p.mu.RLock()
	out := make([]Source, 0, len(p.sources))
	for _, src := range p.sources {
		out = append(out, *src)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Scenes returns the tracked scene list in remote order.
func (p *Projection) Scenes() []Scene {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Scene(nil), p.scenes...)
}

// handleInputRemoved drops one source from the table and removes any control
// mapping that targeted it.
func (p *Projection) handleInputRemoved(name string) {
	p.mu.Lock()
	src, ok := p.sources[name]
	var mappingID string
	if ok {
		mappingID = src.MidiMapping
		delete(p.sources, name)
	}
	remover := p.mappings
	p.mu.Unlock()

	if !ok {
		return
	}
	if mappingID != "" && remover != nil {
		remover.RemoveMapping(mappingID)
	}
	p.publishSourcesUpdated()
}

// clear drops the whole table, as on disconnect.
func (p *Projection) clear() {
	p.mu.Lock()
	p.sources = make(map[string]*Source)
	p.scenes = nil
	p.mu.Unlock()
	p.publishSourcesUpdated()
}

func (p *Projection) publishSourcesUpdated() {
	p.mu.RLock()
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	p.mu.RUnlock()

	sort.Strings(names)
	p.bus.Publish(events.SourcesUpdated{Sources: names})
}

// saveSourceSetting persists one per-source setting. The read-modify-write
// runs inside the store's write lock, so concurrent dispatch goroutines
// neither corrupt the document nor overwrite each other's entries. Source
// names may contain dots, so the entry cannot be addressed as a key path.
func (p *Projection) saveSourceSetting(name, key string, value any) {
	err := p.cfg.Update("audio.sources", func(section map[string]any) {
		entry, ok := section[name].(map[string]any)
		if !ok {
			entry = make(map[string]any)
			section[name] = entry
		}
		entry[key] = value
	})
	if err != nil {
		p.logger.Warnw("failed to persist source setting", "source", name, "key", key, "error", err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
