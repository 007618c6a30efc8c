// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/spieswl/webrtc-perception/generichttp"
)

// ManipulableLock is a lock which can be toggled over HTTP and used as middleware
type ManipulableLock interface {
	Lock()
	Unlock()
	Locked() bool
	Check(http.Handler) http.Handler
	HTTPGet(http.ResponseWriter, *http.Request)
	HTTPSet(http.ResponseWriter, *http.Request)
}

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l ManipulableLock) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of paths to not protect
type Locker struct {
	mu       sync.Mutex
	isLocked bool

	// Busy, if not nil, is polled on every request; while it returns true
	// the locker behaves as locked.  The rig uses it to hold off
	// pattern changes while a sequence is running.
	Busy func() bool

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// NewBusy returns a Locker that is also locked whenever busy returns true
func NewBusy(busy func() bool, doNotProtect ...string) *Locker {
	l := New()
	l.Busy = busy
	l.DoNotProtect = append(l.DoNotProtect, doNotProtect...)
	return l
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	l.isLocked = true
	l.mu.Unlock()
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.isLocked = false
	l.mu.Unlock()
}

// Locked returns true if the locker is locked or busy
func (l *Locker) Locked() bool {
	l.mu.Lock()
	locked := l.isLocked
	l.mu.Unlock()
	return locked || (l.Busy != nil && l.Busy())
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
