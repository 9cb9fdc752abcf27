// Package recording watches a capture directory for the per-port video
// files a live recording session writes, so a batch pipeline run can start
// opening recordedstream.Streams as soon as every expected port has landed
// its file rather than polling.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/internal/pipelineerr"
)

// portFileRe matches the recorded video filename convention, port_{N}.mp4.
var portFileRe = regexp.MustCompile(`^port_(\d+)\.mp4$`)

// Watcher observes a directory for recorded port files appearing and
// reports each one once, by port number, over Arrived.
type Watcher struct {
	dir     string
	log     logging.Logger
	fsw     *fsnotify.Watcher
	Arrived chan int

	mu      sync.Mutex
	seen    map[int]bool
	stopped bool
	done    chan struct{}
}

// New begins watching directory for port_{N}.mp4 files, both ones already
// present and ones that appear later. Call Stop to release the underlying
// inotify/kqueue handle.
func New(directory string, log logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Noop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pipelineerr.Wrap(err, "recording.New: creating filesystem watcher")
	}
	if err := fsw.Add(directory); err != nil {
		fsw.Close()
		return nil, pipelineerr.Wrap(err, "recording.New: watching directory")
	}

	w := &Watcher{
		dir:     directory,
		log:     log,
		fsw:     fsw,
		Arrived: make(chan int, 16),
		seen:    map[int]bool{},
		done:    make(chan struct{}),
	}

	w.scanExisting()
	go w.run()
	return w, nil
}

// scanExisting emits Arrived for every port_{N}.mp4 already present at
// watch start, since fsnotify only reports events from this point forward.
func (w *Watcher) scanExisting() {
	entries, err := readDirNames(w.dir)
	if err != nil {
		w.log.Warning("recording: could not list existing files", "dir", w.dir, "error", err)
		return
	}
	for _, name := range entries {
		w.notifyIfPortFile(name)
	}
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.notifyIfPortFile(filepath.Base(event.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warning("recording: watcher error", "error", err)
		}
	}
}

func (w *Watcher) notifyIfPortFile(name string) {
	m := portFileRe.FindStringSubmatch(name)
	if m == nil {
		return
	}
	port, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}

	w.mu.Lock()
	already := w.seen[port]
	w.seen[port] = true
	stopped := w.stopped
	w.mu.Unlock()

	if already || stopped {
		return
	}
	select {
	case w.Arrived <- port:
	default:
		w.log.Warning("recording: Arrived channel full, dropping notification", "port", port)
	}
}

// Stop closes the underlying watcher and the Arrived channel. Safe to call
// more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	close(w.Arrived)
	return err
}

// ExpectedPortsPresent reports whether every port in wantPorts has a
// recorded video file in directory right now, without waiting for further
// filesystem events.
func ExpectedPortsPresent(directory string, wantPorts []int) (bool, error) {
	entries, err := readDirNames(directory)
	if err != nil {
		return false, fmt.Errorf("recording: listing %s: %w", directory, err)
	}
	present := map[int]bool{}
	for _, name := range entries {
		if m := portFileRe.FindStringSubmatch(name); m != nil {
			port, _ := strconv.Atoi(m[1])
			present[port] = true
		}
	}
	for _, p := range wantPorts {
		if !present[p] {
			return false, nil
		}
	}
	return true, nil
}

// readDirNames lists the base names of a directory's entries, skipping
// subdirectories.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
