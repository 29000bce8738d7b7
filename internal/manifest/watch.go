package manifest

import "github.com/fsnotify/fsnotify"

// Watch watches dir for manifest changes dropped by an out-of-band process
// (e.g. an administrator pushing a dictionary without going through the
// trainer) and invokes onChange for every event on a "*.mf" file, whatever
// its operation (create, write, rename, remove or chmod). It is additive: the trainer's own post-train rescan works
// without this. The returned stop func closes the underlying watcher.
func Watch(dir string, onChange func()) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if len(ev.Name) > 3 && ev.Name[len(ev.Name)-3:] == ".mf" {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return w.Close()
	}, nil
}
