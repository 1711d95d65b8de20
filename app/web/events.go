package web

import (
	log "github.com/go-pkgz/lgr"

	"github.com/mlevkov/offsite/app/cache"
	"github.com/mlevkov/offsite/app/web/enums"
	"github.com/mlevkov/offsite/app/web/persistence"
)

// OnCacheEvent records a cache lifecycle event in the history. Implements
// cache.EventHandler; storage failures are logged and swallowed so the worker
// never stalls on the history.
func (s *Server) OnCacheEvent(ev cache.Event) {
	evType, err := enums.ParseEventType(string(ev.Kind))
	if err != nil {
		log.Printf("[WARN] unknown cache event kind %q: %v", ev.Kind, err)
		return
	}

	info := persistence.EventInfo{
		Type:      evType,
		Version:   ev.Version,
		Detail:    ev.Detail,
		CreatedAt: ev.Time,
	}
	if err := s.store.RecordEvent(info); err != nil {
		log.Printf("[WARN] failed to record cache event %s: %v", ev.Kind, err)
		return
	}

	if err := s.store.CleanupOldEvents(s.eventsLimit); err != nil {
		log.Printf("[WARN] failed to cleanup old events: %v", err)
	}
}
