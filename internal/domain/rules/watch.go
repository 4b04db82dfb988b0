package rules

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch monitors the rule file and swaps a freshly validated rule set into
// the store on every write. It runs until ctx is cancelled.
//
// A reload that fails validation is logged and discarded; the previous rule
// set stays active, so the engine never runs with a partial or broken set.
func Watch(ctx context.Context, path string, store *Store, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log = log.With().Str("component", "rules").Str("path", path).Logger()
	log.Info().Msg("watching rule file for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which arrives as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			rs, err := Load(path)
			if err != nil {
				log.Error().Err(err).Msg("rule reload failed, keeping previous set")
				continue
			}

			store.Replace(rs)
			log.Info().Int("rules", len(rs)).Msg("rule set reloaded")

			// Re-add in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("rule watcher error")
		}
	}
}
