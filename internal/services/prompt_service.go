package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Built-in instructions used when no prompts file is configured
const (
	DefaultSystemPrompt = `You are a helpful conversational assistant.
Use the conversation summary and pinned facts as background knowledge about the user and the topic.
Answer the latest user message directly and concisely. Do not repeat the summary back unless asked.`

	DefaultSummarizerPrompt = `You maintain a running summary of a conversation.
Write at most 6 sentences of prose under "Summary:", then "Action Items:" and "Facts:" sections.
List each action item and each durable fact on its own line starting with "- ".
Only include facts stated in the transcript.`
)

// Prompts holds the instruction texts loaded from PROMPTS_FILE
type Prompts struct {
	System     string `yaml:"system"`
	Summarizer string `yaml:"summarizer"`
}

// PromptService serves the current prompts and reloads them when the file changes
type PromptService struct {
	path    string
	mu      sync.RWMutex
	prompts Prompts
}

// NewPromptService loads prompts from path; an empty path uses the built-in prompts
func NewPromptService(path string) (*PromptService, error) {
	s := &PromptService{
		path: path,
		prompts: Prompts{
			System:     DefaultSystemPrompt,
			Summarizer: DefaultSummarizerPrompt,
		},
	}

	if path == "" {
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns a copy of the active prompts
func (s *PromptService) Current() Prompts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts
}

// System returns the chat system instructions
func (s *PromptService) System() string {
	return s.Current().System
}

// Summarizer returns the summarization instructions
func (s *PromptService) Summarizer() string {
	return s.Current().Summarizer
}

// Reload re-reads the prompts file. Missing keys keep their built-in value.
func (s *PromptService) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read prompts file: %w", err)
	}

	var loaded Prompts
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse prompts file: %w", err)
	}

	next := Prompts{System: DefaultSystemPrompt, Summarizer: DefaultSummarizerPrompt}
	if strings.TrimSpace(loaded.System) != "" {
		next.System = strings.TrimSpace(loaded.System)
	}
	if strings.TrimSpace(loaded.Summarizer) != "" {
		next.Summarizer = strings.TrimSpace(loaded.Summarizer)
	}

	s.mu.Lock()
	s.prompts = next
	s.mu.Unlock()

	return nil
}

// Watch reloads the prompts file on every write until ctx is cancelled
func (s *PromptService) Watch(ctx context.Context) {
	if s.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(s.path)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", s.path, err)
		return
	}

	// Watch the directory, editors often replace the file instead of writing it
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", s.path)

	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := s.Reload(); err != nil {
						log.Printf("⚠️  [PROMPTS] Reload failed, keeping previous prompts: %v", err)
						return
					}
					log.Printf("🔄 [PROMPTS] Reloaded %s", s.path)
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
