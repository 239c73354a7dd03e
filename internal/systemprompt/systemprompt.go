// Package systemprompt injects a system prompt loaded from a file into every
// outbound request, and mirrors the effective system prompt of each inbound
// request back out to a second file for inspection (spec.md §4.5
// "System-Prompt Manager").
//
// The source file is watched with fsnotify and cached in memory so a hot
// edit takes effect on the next request without a file read per call. The
// mirror file is rewritten under a single-writer discipline per process
// (spec.md §3 "Shared resources" (c)): concurrent callers serialize through
// a mutex rather than racing independent os.WriteFile calls, generalizing
// the teacher's shared-mutable-state-under-concurrency idiom (e.g.
// internal/provider/auth_pool.go's registry mutex) to a plain text file.
package systemprompt

import (
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

// Manager owns the cached source prompt and the mirror file's write lock.
type Manager struct {
	sourcePath string
	mirrorPath string
	mode       config.SystemPromptMode

	mu      sync.RWMutex
	cached  string
	watcher *fsnotify.Watcher

	mirrorMu sync.Mutex
}

// New loads sourcePath (if set) and starts watching it for changes. mirrorPath
// is the file MirrorToFile writes the effective system prompt to; it may be
// empty, in which case mirroring is a no-op.
func New(cfg *config.Config, mirrorPath string) *Manager {
	m := &Manager{
		sourcePath: strings.TrimSpace(cfg.SystemPromptFile),
		mirrorPath: strings.TrimSpace(mirrorPath),
		mode:       cfg.SystemPromptMode,
	}
	if m.sourcePath == "" {
		return m
	}
	m.reload()
	m.startWatch()
	return m
}

func (m *Manager) reload() {
	data, err := os.ReadFile(m.sourcePath)
	if err != nil {
		log.Warnf("system prompt: failed to read %s: %v", m.sourcePath, err)
		return
	}
	m.mu.Lock()
	m.cached = string(data)
	m.mu.Unlock()
}

func (m *Manager) startWatch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("system prompt: failed to start watcher: %v", err)
		return
	}
	if err := watcher.Add(m.sourcePath); err != nil {
		log.Warnf("system prompt: failed to watch %s: %v", m.sourcePath, err)
		_ = watcher.Close()
		return
	}
	m.watcher = watcher
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					m.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("system prompt: watcher error: %v", err)
			}
		}
	}()
}

// Close stops the file watcher.
func (m *Manager) Close() {
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

func (m *Manager) source() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached
}

// ApplyFromFile merges the loaded system prompt into req per the configured
// mode: "overwrite" replaces any existing system turn; "append" concatenates
// the file content after the caller's own system turn (spec.md §4.1
// applySystemPromptFromFile). A nil Manager or unset source file is a no-op.
func (m *Manager) ApplyFromFile(req *ir.UnifiedChatRequest) *ir.UnifiedChatRequest {
	if m == nil || m.sourcePath == "" || req == nil {
		return req
	}
	prompt := strings.TrimRight(m.source(), "\n")
	if prompt == "" {
		return req
	}

	idx := -1
	for i, msg := range req.Messages {
		if msg.Role == ir.RoleSystem {
			idx = i
			break
		}
	}

	switch {
	case idx < 0:
		sysMsg := ir.Message{Role: ir.RoleSystem, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: prompt}}}
		req.Messages = append([]ir.Message{sysMsg}, req.Messages...)
	case m.mode == config.SystemPromptAppend:
		req.Messages[idx].Content = append(req.Messages[idx].Content, ir.ContentPart{Type: ir.ContentTypeText, Text: prompt})
	default: // overwrite
		req.Messages[idx].Content = []ir.ContentPart{{Type: ir.ContentTypeText, Text: prompt}}
	}
	return req
}

// MirrorToFile writes the effective system prompt of req to the mirror path,
// replacing any previous content - an advisory copy for inspecting what was
// actually sent, not a log (spec.md §6 "Persisted state"). Writes serialize
// through mirrorMu so two in-flight requests never interleave partial
// writes to the same file.
func (m *Manager) MirrorToFile(req *ir.UnifiedChatRequest) {
	if m == nil || m.mirrorPath == "" || req == nil {
		return
	}
	var text strings.Builder
	for _, msg := range req.Messages {
		if msg.Role != ir.RoleSystem {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == ir.ContentTypeText {
				text.WriteString(part.Text)
				text.WriteByte('\n')
			}
		}
	}
	if text.Len() == 0 {
		return
	}

	m.mirrorMu.Lock()
	defer m.mirrorMu.Unlock()
	if err := os.WriteFile(m.mirrorPath, []byte(text.String()), 0o600); err != nil {
		log.Warnf("system prompt: failed to mirror to %s: %v", m.mirrorPath, err)
	}
}
